package subst

import "strings"

// Keyword identifies one of the five keywords a translator can expand or
// contract. Several aliases map to the same Keyword, mirroring the
// long/medium/short names recognised by svn_subst_build_keywords.
type Keyword int

const (
	KeywordRevision Keyword = iota
	KeywordDate
	KeywordAuthor
	KeywordURL
	KeywordID
)

func (k Keyword) String() string {
	switch k {
	case KeywordRevision:
		return "Revision"
	case KeywordDate:
		return "Date"
	case KeywordAuthor:
		return "Author"
	case KeywordURL:
		return "URL"
	case KeywordID:
		return "Id"
	default:
		return "Unknown"
	}
}

// keywordAliases maps every recognised spelling (case-insensitive for the
// short forms, case-sensitive for the long ones, matching the C
// implementation) to its canonical Keyword. ParseKeywordSet looks up each
// whitespace-separated token of the svn:keywords property value whole.
var keywordAliases = map[string]Keyword{
	"LastChangedRevision": KeywordRevision,
	"Rev":                 KeywordRevision,
	"Revision":            KeywordRevision,
	"LastChangedDate":     KeywordDate,
	"Date":                KeywordDate,
	"LastChangedBy":       KeywordAuthor,
	"Author":              KeywordAuthor,
	"HeadURL":             KeywordURL,
	"URL":                 KeywordURL,
	"Id":                  KeywordID,
}

// keywordToken is the literal byte sequence that appears between '$' and
// ':'/'$' for a given keyword - the canonical long form is used on output
// for the unexpanded and expanded forms, matching svn_subst_build_keywords's
// choice of SVN_KEYWORD_*_LONG. A fixed-width occurrence keeps the name as
// written so that its byte width is unchanged.
var keywordToken = map[Keyword]string{
	KeywordRevision: "LastChangedRevision",
	KeywordDate:     "LastChangedDate",
	KeywordAuthor:   "LastChangedBy",
	KeywordURL:      "HeadURL",
	KeywordID:       "Id",
}

// keywordMatchTokens lists every spelling scanned in the byte stream, short
// aliases included - a file may contain
// "$Rev$" or "$Date$" etc, and those must be recognised on top of the long
// form when building the list of candidate tokens to try per keyword.
var keywordMatchTokens = map[Keyword][]string{
	KeywordRevision: {"LastChangedRevision", "Rev", "Revision"},
	KeywordDate:     {"LastChangedDate", "Date"},
	KeywordAuthor:   {"LastChangedBy", "Author"},
	KeywordURL:      {"HeadURL", "URL"},
	KeywordID:       {"Id"},
}

// ParseKeywordSet splits an svn:keywords-style property value ("Revision
// Date Author Id") into the set of enabled Keywords, resolving aliases.
func ParseKeywordSet(value string) map[Keyword]bool {
	set := make(map[Keyword]bool)
	for _, tok := range strings.Fields(value) {
		if kw, ok := lookupAlias(tok); ok {
			set[kw] = true
		}
	}
	return set
}

func lookupAlias(tok string) (Keyword, bool) {
	if kw, ok := keywordAliases[tok]; ok {
		return kw, true
	}
	for name, kw := range keywordAliases {
		if strings.EqualFold(name, tok) && len(name) <= 4 {
			// Only the short forms (Rev, Date, Id, ...) are case-insensitive
			// per svn_subst_build_keywords's strcasecmp calls.
			return kw, true
		}
	}
	return 0, false
}

// Values holds the keyword-value tuple (§3 "Keyword Keyword-Value Tuple").
// A keyword absent from the enabled set leaves its placeholder untouched.
// An enabled keyword whose member is the empty string is written as the
// contracted "$Name$" form, the same as when canonicalising.
type Values struct {
	Revision string
	Date     string
	Author   string
	URL      string
	ID       string
}

func (v Values) forKeyword(k Keyword) string {
	switch k {
	case KeywordRevision:
		return v.Revision
	case KeywordDate:
		return v.Date
	case KeywordAuthor:
		return v.Author
	case KeywordURL:
		return v.URL
	case KeywordID:
		return v.ID
	default:
		return ""
	}
}

// BuildValues assembles a Values tuple the way svn_subst_build_keywords
// does: Id concatenates basename, revision, date and author into one
// token.
func BuildValues(basename, revision, humanDate, author, url string) Values {
	return Values{
		Revision: revision,
		Date:     humanDate,
		Author:   author,
		URL:      url,
		ID:       strings.TrimSpace(basename + " " + revision + " " + humanDate + " " + author),
	}
}
