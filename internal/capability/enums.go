package capability

// Content rating levels.
const (
	ContentRatingEveryone = "EVERYONE"
	ContentRatingMature   = "MATURE"
	ContentRatingAdult    = "ADULT"
)

// Manga publication status.
const (
	StatusCompleted = 0
	StatusOngoing   = 1
	StatusUnknown   = 2
	StatusAbandoned = 3
	StatusHiatus    = 4
)

// Tag colour classes.
const (
	TagDefault = "default"
	TagSuccess = "success"
	TagInfo    = "info"
	TagWarning = "warning"
	TagDanger  = "danger"
)

// Home-section layout kinds.
const (
	SectionSingleRowNormal = "singleRowNormal"
	SectionSingleRowLarge  = "singleRowLarge"
	SectionDoubleRow       = "doubleRow"
	SectionFeatured        = "featured"
)

var languageCodes = map[string]string{
	"UNKNOWN":    "_unknown",
	"BENGALI":    "bd",
	"BULGARIAN":  "bg",
	"BRAZILIAN":  "br",
	"CHINESE":    "cn",
	"CZECH":      "cz",
	"GERMAN":     "de",
	"DANISH":     "dk",
	"ENGLISH":    "gb",
	"SPANISH":    "es",
	"FINNISH":    "fi",
	"FRENCH":     "fr",
	"GREEK":      "gr",
	"CHINESE_HK": "hk",
	"HUNGARIAN":  "hu",
	"INDONESIAN": "id",
	"ISRAELI":    "il",
	"INDIAN":     "in",
	"IRAN":       "ir",
	"ITALIAN":    "it",
	"JAPANESE":   "jp",
	"KOREAN":     "kr",
	"LITHUANIAN": "lt",
	"MONGOLIAN":  "mn",
	"MEXICAN":    "mx",
	"MALAY":      "my",
	"DUTCH":      "nl",
	"NORWEGIAN":  "no",
	"PHILIPPINE": "ph",
	"POLISH":     "pl",
	"PORTUGUESE": "pt",
	"ROMANIAN":   "ro",
	"RUSSIAN":    "ru",
	"SANSKRIT":   "sa",
	"SAMI":       "si",
	"THAI":       "th",
	"TURKISH":    "tr",
	"UKRAINIAN":  "ua",
	"VIETNAMESE": "vn",
}

// LanguageCode returns the flag code for a language name such as "ENGLISH".
func LanguageCode(name string) (string, bool) {
	code, ok := languageCodes[name]
	return code, ok
}

// Enums returns the shared constant enumerations injected into every
// extension's scope, keyed by the global name extensions reference.
func Enums() map[string]map[string]any {
	langs := make(map[string]any, len(languageCodes))
	for k, v := range languageCodes {
		langs[k] = v
	}
	return map[string]map[string]any{
		"ContentRating": {
			"EVERYONE": ContentRatingEveryone,
			"MATURE":   ContentRatingMature,
			"ADULT":    ContentRatingAdult,
		},
		"LanguageCode": langs,
		"MangaStatus": {
			"COMPLETED": StatusCompleted,
			"ONGOING":   StatusOngoing,
			"UNKNOWN":   StatusUnknown,
			"ABANDONED": StatusAbandoned,
			"HIATUS":    StatusHiatus,
		},
		"TagType": {
			"BLUE":   TagDefault,
			"GREEN":  TagSuccess,
			"GREY":   TagInfo,
			"YELLOW": TagWarning,
			"RED":    TagDanger,
		},
		"HomeSectionType": {
			"singleRowNormal": SectionSingleRowNormal,
			"singleRowLarge":  SectionSingleRowLarge,
			"doubleRow":       SectionDoubleRow,
			"featured":        SectionFeatured,
		},
	}
}
