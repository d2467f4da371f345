package cnst

const (
	LangEN      = "en"
	LangZH      = "zh"
	LangDefault = LangEN
)

const (
	// XLang is the request header carrying the preferred label language
	XLang = "X-Lang"
)
