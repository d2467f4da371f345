package i18n

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RespondWithError sends an appropriate HTTP error response for the given error
func RespondWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	statusCode := http.StatusInternalServerError
	errorMsg := TranslateError(c, err)

	var errWithCode *ErrorWithCode
	if errors.As(err, &errWithCode) {
		statusCode = int(errWithCode.GetCode())
	} else {
		errorMsg = ErrInternalServer.TranslateByContext(c)
	}

	c.AbortWithStatusJSON(statusCode, gin.H{"error": errorMsg})
}

// RespondWithSuccess sends a success HTTP response with an internationalized message
func RespondWithSuccess(c *gin.Context, statusCode int, msgID string, payload interface{}) {
	response := gin.H{}
	if msgID != "" {
		response["message"] = TranslateMessage(c, msgID, nil)
	}

	switch p := payload.(type) {
	case nil:
	case gin.H:
		for k, v := range p {
			response[k] = v
		}
	case map[string]any:
		for k, v := range p {
			response[k] = v
		}
	default:
		response["data"] = payload
	}

	c.JSON(statusCode, response)
}

// RespondOK sends a success HTTP response with status code 200
func RespondOK(c *gin.Context, payload interface{}) {
	RespondWithSuccess(c, http.StatusOK, "", payload)
}
