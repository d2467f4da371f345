package i18n

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amoylab/chatline/internal/chat/projection"
	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func newBuiltin(t *testing.T) *I18n {
	t.Helper()
	i := NewI18n(language.English)
	require.NoError(t, i.LoadBuiltin())
	return i
}

func TestLoadBuiltin(t *testing.T) {
	i := newBuiltin(t)

	assert.Equal(t, "now", i.Translate(projection.LabelNow, cnst.LangEN, nil))
	assert.Equal(t, "刚刚", i.Translate(projection.LabelNow, cnst.LangZH, nil))
	assert.Equal(t, "5m", i.Translate(projection.LabelMinutes, cnst.LangEN, map[string]interface{}{"Count": 5}))
	assert.Equal(t, "3小时", i.Translate(projection.LabelHours, cnst.LangZH, map[string]interface{}{"Count": 3}))
	assert.Equal(t, "星期一", i.Translate(projection.WeekdayLabel(time.Monday), cnst.LangZH, nil))
}

func TestTranslateUnknownID(t *testing.T) {
	i := newBuiltin(t)
	assert.Equal(t, "NoSuchMessage", i.Translate("NoSuchMessage", cnst.LangZH, nil))
}

func TestTranslateUnsupportedLanguageFallsBack(t *testing.T) {
	i := newBuiltin(t)
	assert.Equal(t, "yesterday", i.Translate(projection.LabelYesterday, "fr", nil))
}

func TestLoadTranslationsOverlay(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`"time.now" = "just now"
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.toml"), content, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	i := newBuiltin(t)
	require.NoError(t, i.LoadTranslations(dir))
	assert.Equal(t, "just now", i.Translate(projection.LabelNow, cnst.LangEN, nil))
	assert.Equal(t, "yesterday", i.Translate(projection.LabelYesterday, cnst.LangEN, nil))
}

func TestLoadTranslationsMissingDir(t *testing.T) {
	i := NewI18n(language.English)
	assert.Error(t, i.LoadTranslations(filepath.Join(t.TempDir(), "missing")))
}

func TestLabels(t *testing.T) {
	i := newBuiltin(t)

	zh := i.Labels(cnst.LangZH)
	assert.Equal(t, "5月3日", zh.Label(projection.LabelMonthDay, map[string]any{"Month": 5, "MonthName": "May", "Day": 3}))
	assert.Equal(t, "暂无消息", zh.Label(projection.LabelNoMessages, nil))

	en := i.Labels(cnst.LangEN)
	assert.Equal(t, "May 3", en.Label(projection.LabelMonthDay, map[string]any{"Month": 5, "MonthName": "May", "Day": 3}))
	assert.Equal(t, "weekday.someday", en.Label("weekday.someday", nil))
}

func TestLabelsDriveRelativeTime(t *testing.T) {
	i := newBuiltin(t)
	now := time.Date(2024, 5, 15, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, "昨天", projection.RelativeTime(now.Add(-24*time.Hour), now, i.Labels(cnst.LangZH)))
	assert.Equal(t, "10m", projection.RelativeTime(now.Add(-10*time.Minute), now, i.Labels(cnst.LangEN)))
}

func TestNormalizeLang(t *testing.T) {
	original := defaultLang
	defer func() { defaultLang = original }()
	defaultLang = cnst.LangEN

	assert.Equal(t, cnst.LangZH, normalizeLang("zh-CN"))
	assert.Equal(t, cnst.LangEN, normalizeLang("EN-us"))
	assert.Equal(t, cnst.LangEN, normalizeLang("fr"))
}

func TestSetDefaultLanguage(t *testing.T) {
	original := defaultLang
	defer func() { defaultLang = original }()

	SetDefaultLanguage("zh-TW")
	assert.Equal(t, cnst.LangZH, defaultLang)

	SetDefaultLanguage("de")
	assert.Equal(t, cnst.LangZH, defaultLang)
}

func TestGetLanguageFromRequest(t *testing.T) {
	original := defaultLang
	defer func() { defaultLang = original }()
	defaultLang = cnst.LangEN

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, cnst.LangEN, getLanguageFromRequest(r))

	r.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	assert.Equal(t, cnst.LangZH, getLanguageFromRequest(r))

	r.Header.Set(cnst.XLang, "en")
	assert.Equal(t, cnst.LangEN, getLanguageFromRequest(r))
}

func TestErrorWithCodeParamsAreCopied(t *testing.T) {
	base := NewErrorWithCode("ErrorConversationNotFound", ErrorNotFound)
	withID := base.WithParam("ChannelID", "c1")

	assert.Empty(t, base.Data)
	assert.Equal(t, "c1", withID.Data["ChannelID"])
	assert.Equal(t, ErrorNotFound, withID.GetCode())
	assert.Equal(t, "Conversation c1 not found", withID.Error())
}

func TestI18nErrorDefaultMessage(t *testing.T) {
	e := &I18nError{MessageID: "Unknown", DefaultMessage: "user {{.ID}} failed", Data: map[string]interface{}{"ID": "u1"}}
	assert.Equal(t, "user u1 failed", e.Error())
}

func TestRespondWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/busy", func(c *gin.Context) { RespondWithError(c, ErrSessionBusy) })
	r.GET("/missing", func(c *gin.Context) {
		RespondWithError(c, ErrConversationNotFound.WithParam("ChannelID", "c9"))
	})
	r.GET("/plain", func(c *gin.Context) { RespondWithError(c, errors.New("boom")) })

	cases := []struct {
		path, lang string
		code       int
		body       string
	}{
		{"/busy", "en", http.StatusConflict, "A session transition is already in progress"},
		{"/busy", "zh", http.StatusConflict, "会话正在切换中"},
		{"/missing", "zh", http.StatusNotFound, "会话 c9 不存在"},
		{"/plain", "en", http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.path+"_"+tc.lang, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set(cnst.XLang, tc.lang)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

func TestRespondOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) { RespondOK(c, gin.H{"state": "idle"}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"idle"}`, w.Body.String())
}
