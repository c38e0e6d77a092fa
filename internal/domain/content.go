package domain

// Normalized result shapes handed to callers of the dispatch facade. Fields use
// the lenient Flex types so heterogeneous extension output decodes cleanly.

// PartialManga is a manga summary as shown in listings.
type PartialManga struct {
	MangaID  FlexString `json:"mangaId"`
	Title    FlexString `json:"title"`
	Image    FlexString `json:"image"`
	Subtitle FlexString `json:"subtitle"`
}

// Manga is the detailed view of one manga.
type Manga struct {
	ID          FlexString   `json:"id"`
	Titles      []FlexString `json:"titles"`
	Image       FlexString   `json:"image"`
	Author      FlexString   `json:"author"`
	Artist      FlexString   `json:"artist"`
	Description FlexString   `json:"desc"`
	Status      FlexString   `json:"status"`
	Rating      FlexFloat    `json:"rating"`
	Hentai      FlexBool     `json:"hentai"`
	Tags        []TagSection `json:"tags"`
	LastUpdate  FlexString   `json:"lastUpdate"`
}

// Chapter is one entry of a manga's chapter list.
type Chapter struct {
	ID       FlexString `json:"id"`
	MangaID  FlexString `json:"mangaId"`
	Name     FlexString `json:"name"`
	ChapNum  FlexFloat  `json:"chapNum"`
	Volume   FlexFloat  `json:"volume"`
	LangCode FlexString `json:"langCode"`
	Group    FlexString `json:"group"`
	Time     FlexString `json:"time"`
}

// ChapterDetails is the page list of one chapter.
type ChapterDetails struct {
	ID        FlexString `json:"id"`
	MangaID   FlexString `json:"mangaId"`
	Pages     []Page     `json:"pages"`
	LongStrip FlexBool   `json:"longStrip"`
}

// Tag is a searchable genre or label.
type Tag struct {
	ID    FlexString `json:"id"`
	Label FlexString `json:"label"`
}

// TagSection groups tags under a heading.
type TagSection struct {
	ID    FlexString `json:"id"`
	Label FlexString `json:"label"`
	Tags  []Tag      `json:"tags"`
}

// HomeSection is one row of an extension's home page.
type HomeSection struct {
	ID           FlexString     `json:"id"`
	Title        FlexString     `json:"title"`
	Type         FlexString     `json:"type"`
	Items        []PartialManga `json:"items"`
	ContainsMore FlexBool       `json:"containsMoreItems"`
}

// PagedResults is the pagination envelope. A nil Metadata means no further pages.
type PagedResults struct {
	Results  []PartialManga `json:"results"`
	Metadata any            `json:"metadata"`
}

// SourceResults pairs one extension's search page with its ID for fan-out searches.
type SourceResults struct {
	ExtensionID string       `json:"extension_id"`
	Page        PagedResults `json:"page"`
}

// Form row kinds.
const (
	RowButton     = "button"
	RowStepper    = "stepper"
	RowInput      = "input"
	RowLabel      = "label"
	RowSwitch     = "switch"
	RowSelect     = "select"
	RowNavigation = "navigation"
)

// FormRow is one row of a settings form.
type FormRow struct {
	ID          FlexString   `json:"id"`
	Kind        FlexString   `json:"type"`
	Label       FlexString   `json:"label"`
	Value       any          `json:"value"`
	Placeholder FlexString   `json:"placeholder"`
	Options     []FlexString `json:"options"`
	Min         FlexFloat    `json:"min"`
	Max         FlexFloat    `json:"max"`
	Step        FlexFloat    `json:"step"`
	Form        *SourceMenu  `json:"form,omitempty"`
}

// FormSection groups rows of a settings form.
type FormSection struct {
	ID     FlexString `json:"id"`
	Header FlexString `json:"header"`
	Footer FlexString `json:"footer"`
	Rows   []FormRow  `json:"rows"`
}

// SourceMenu is an extension's settings form.
type SourceMenu struct {
	ID       FlexString    `json:"id"`
	Title    FlexString    `json:"title"`
	Sections []FormSection `json:"sections"`
}
