package core

import (
	"fmt"
	"time"
)

// Status tracks how far an item has progressed through the pipeline.
// Statuses only ever advance forward; "failed" is terminal.
type Status string

const (
	StatusCreated     Status = "created"
	StatusStage1Done  Status = "stage1_done"
	StatusStage15Done Status = "stage15_done"
	StatusStage2Done  Status = "stage2_done"
	StatusStage3Done  Status = "stage3_done"
	StatusStage4Done  Status = "stage4_done"
	StatusStage5Done  Status = "stage5_done"
	StatusFailed      Status = "failed"
)

// statusOrder defines the forward-only progression
var statusOrder = map[Status]int{
	StatusCreated:     0,
	StatusStage1Done:  1,
	StatusStage15Done: 2,
	StatusStage2Done:  3,
	StatusStage3Done:  4,
	StatusStage4Done:  5,
	StatusStage5Done:  6,
	StatusFailed:      7,
}

// Stage identifies one of the six pipeline stages
type Stage int

const (
	StageExtract Stage = iota + 1 // stage 1: vision metadata extraction
	StageClean                    // stage 1.5: number/date normalization
	StageSearch                   // stage 2: union catalog search
	StageSelect                   // stage 3: LLM candidate selection
	StageVerify                   // stage 4: track/year verification
	StageDispose                  // stage 5: disposition + holdings check
)

// String returns the stage tag used in logs, custom IDs and metrics
func (s Stage) String() string {
	switch s {
	case StageExtract:
		return "stage1"
	case StageClean:
		return "stage1_5"
	case StageSearch:
		return "stage2"
	case StageSelect:
		return "stage3"
	case StageVerify:
		return "stage4"
	case StageDispose:
		return "stage5"
	}
	return fmt.Sprintf("stage?%d", int(s))
}

// EntryStatus returns the status an item must hold to be pending for this stage
func (s Stage) EntryStatus() Status {
	switch s {
	case StageExtract:
		return StatusCreated
	case StageClean:
		return StatusStage1Done
	case StageSearch:
		return StatusStage15Done
	case StageSelect:
		return StatusStage2Done
	case StageVerify:
		return StatusStage3Done
	case StageDispose:
		return StatusStage4Done
	}
	return StatusFailed
}

// DoneStatus returns the status an item holds after this stage completes
func (s Stage) DoneStatus() Status {
	switch s {
	case StageExtract:
		return StatusStage1Done
	case StageClean:
		return StatusStage15Done
	case StageSearch:
		return StatusStage2Done
	case StageSelect:
		return StatusStage3Done
	case StageVerify:
		return StatusStage4Done
	case StageDispose:
		return StatusStage5Done
	}
	return StatusFailed
}

// ImageRole distinguishes the up-to-three scans per item
type ImageRole string

const (
	ImageFront      ImageRole = "front"      // filename suffix "a"
	ImageBack       ImageRole = "back"       // filename suffix "b"
	ImageAdditional ImageRole = "additional" // filename suffix "c"
)

// ImageRef points at one scanned image of the physical item
type ImageRef struct {
	Role ImageRole `json:"role"`
	Path string    `json:"path"`
}

// Item is the atomic unit of work: one physical CD or LP identified by
// its barcode, carrying one record per completed stage.
type Item struct {
	Barcode string     `json:"barcode"`
	Images  []ImageRef `json:"images"`
	Status  Status     `json:"status"`

	// Populated when Status is "failed"
	FailedStage  string `json:"failed_stage,omitempty"`
	FailedReason string `json:"failed_reason,omitempty"`

	Stage1  *Stage1Record  `json:"stage1,omitempty"`
	Stage15 *Stage15Record `json:"stage1_5,omitempty"`
	Stage2  *Stage2Record  `json:"stage2,omitempty"`
	Stage3  *Stage3Record  `json:"stage3,omitempty"`
	Stage4  *Stage4Record  `json:"stage4,omitempty"`
	Stage5  *Stage5Record  `json:"stage5,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdvanceTo moves the item's status forward. Moving backwards (or
// sideways) is a data-invariant violation.
func (it *Item) AdvanceTo(next Status) error {
	cur, ok := statusOrder[it.Status]
	if !ok {
		return fmt.Errorf("unknown status %q: %w", it.Status, ErrInvalidTransition)
	}
	nxt, ok := statusOrder[next]
	if !ok {
		return fmt.Errorf("unknown status %q: %w", next, ErrInvalidTransition)
	}
	if nxt <= cur {
		return fmt.Errorf("status %q -> %q moves backwards: %w", it.Status, next, ErrInvalidTransition)
	}
	it.Status = next
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed records a terminal failure without erasing prior stage records
func (it *Item) MarkFailed(stage Stage, reason string) {
	it.Status = StatusFailed
	it.FailedStage = stage.String()
	it.FailedReason = reason
	it.UpdatedAt = time.Now().UTC()
}

// Track is one entry of a track listing
type Track struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// Publisher as extracted from the item's packaging
type Publisher struct {
	Name    string   `json:"name,omitempty"`
	Place   string   `json:"place,omitempty"`
	Numbers []string `json:"numbers,omitempty"` // label/catalog numbers, UPC/EAN
}

// Metadata is the closed schema for stage-1 structured extraction.
// Fields the model reports outside this schema are preserved verbatim
// in RawMetadata but never participate in pipeline logic.
type Metadata struct {
	Title                  string      `json:"title,omitempty"`
	Subtitle               string      `json:"subtitle,omitempty"`
	PrimaryContributor     string      `json:"primary_contributor,omitempty"`
	AdditionalContributors []string    `json:"additional_contributors,omitempty"`
	Publishers             []Publisher `json:"publishers,omitempty"`
	PublicationDate        string      `json:"publication_date,omitempty"`
	Languages              []string    `json:"languages,omitempty"`
	Format                 string      `json:"format,omitempty"`
	PhysicalDescription    string      `json:"physical_description,omitempty"`
	Tracks                 []Track     `json:"tracks,omitempty"`
	Notes                  string      `json:"notes,omitempty"`
	RawMetadata            string      `json:"raw_metadata,omitempty"`
}

// Stage1Record holds the vision extraction output
type Stage1Record struct {
	RawText    string     `json:"raw_text"`
	Metadata   *Metadata  `json:"metadata,omitempty"`
	Model      string     `json:"model,omitempty"`
	Usage      TokenUsage `json:"usage"`
	CostUSD    float64    `json:"cost_usd"`
	DurationMS int64      `json:"duration_ms"`
}

// Stage15Record holds the cleanup normalizations
type Stage15Record struct {
	NumbersEdited   bool   `json:"numbers_edited"`
	DateEdited      bool   `json:"date_edited"`
	PublisherNumber string `json:"publisher_number,omitempty"`
	NormalizedYear  int    `json:"normalized_year,omitempty"`
}

// QueryAttempt logs one search query and its outcome
type QueryAttempt struct {
	Query    string `json:"query"`
	HitCount int    `json:"hit_count"`
	Skipped  bool   `json:"skipped,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Holdings summarizes who holds a candidate record
type Holdings struct {
	HeldByInstitution  bool     `json:"held_by_institution"`
	TotalHoldingCount  int      `json:"total_holding_count"`
	InstitutionSymbols []string `json:"institution_symbols,omitempty"`
}

// Candidate is a union-catalog record returned as a potential match
type Candidate struct {
	OCLCNumber   string   `json:"oclc_number"`
	Title        string   `json:"title,omitempty"`
	Contributors []string `json:"contributors,omitempty"`
	Publisher    string   `json:"publisher,omitempty"`
	Date         string   `json:"date,omitempty"`
	Format       string   `json:"format,omitempty"`
	TrackTitles  []string `json:"track_titles,omitempty"`
	Holdings     Holdings `json:"holdings"`
}

// Stage2Record holds the search results
type Stage2Record struct {
	QueriesAttempted []string       `json:"queries_attempted"`
	QueryLog         []QueryAttempt `json:"query_log,omitempty"`
	Candidates       []Candidate    `json:"candidates,omitempty"`
}

// Alternative is a runner-up from the selection stage
type Alternative struct {
	OCLCNumber        string `json:"oclc_number"`
	HeldByInstitution bool   `json:"held_by_institution,omitempty"`
	TotalHoldingCount int    `json:"total_holding_count,omitempty"`
}

// Stage3Record holds the LLM selection
type Stage3Record struct {
	SelectedOCLC    string        `json:"selected_oclc"`
	Confidence      int           `json:"confidence"`
	Explanation     string        `json:"explanation,omitempty"`
	Alternatives    []Alternative `json:"alternatives,omitempty"`
	NotInCandidates bool          `json:"not_in_candidates,omitempty"`
	Flagged         bool          `json:"flagged,omitempty"`
	Model           string        `json:"model,omitempty"`
	Usage           TokenUsage    `json:"usage"`
	CostUSD         float64       `json:"cost_usd"`
}

// YearMatch is the outcome of the publication-year comparison
type YearMatch string

const (
	YearMatchEqual    YearMatch = "match"
	YearMatchMismatch YearMatch = "mismatch"
	YearMatchUnknown  YearMatch = "unknown" // either side missing; not penalized
)

// ConfidenceAdjustment records a stage-4 demotion
type ConfidenceAdjustment struct {
	Adjusted bool   `json:"adjusted"`
	Reason   string `json:"reason,omitempty"`
	Previous int    `json:"previous"`
	New      int    `json:"new"`
}

// Stage4Record holds the verification outcome
type Stage4Record struct {
	TrackSimilarity float64               `json:"track_similarity"`
	TracksCompared  bool                  `json:"tracks_compared"`
	YearMatch       YearMatch             `json:"year_match"`
	Adjustment      *ConfidenceAdjustment `json:"adjustment,omitempty"`
	FinalConfidence int                   `json:"final_confidence"`
}

// DispositionGroup is the terminal classification of an item
type DispositionGroup string

const (
	GroupAlmaBatchUpload   DispositionGroup = "alma_batch_upload"
	GroupHeldByInstitution DispositionGroup = "held_by_institution"
	GroupCatalogerReview   DispositionGroup = "cataloger_review"
	GroupDuplicate         DispositionGroup = "duplicate"
)

// Label returns the export label for a disposition group
func (g DispositionGroup) Label() string {
	switch g {
	case GroupAlmaBatchUpload:
		return "Alma Batch Upload (High Confidence)"
	case GroupHeldByInstitution:
		return "Held by UT Libraries (IXA)"
	case GroupCatalogerReview:
		return "Cataloger Review (Low Confidence)"
	case GroupDuplicate:
		return "Duplicate"
	}
	return string(g)
}

// Stage5Record holds the disposition
type Stage5Record struct {
	Group             DispositionGroup `json:"group"`
	Duplicate         bool             `json:"duplicate,omitempty"`
	DuplicateOf       string           `json:"duplicate_of,omitempty"` // barcode of the kept peer
	HeldByInstitution bool             `json:"held_by_institution,omitempty"`
	MMSID             string           `json:"mms_id,omitempty"`
	AuthTitle         string           `json:"auth_title,omitempty"`
	AuthAuthor        string           `json:"auth_author,omitempty"`
	AuthDate          string           `json:"auth_date,omitempty"`
}

// FinalConfidence returns the effective confidence after any stage-4
// adjustment, falling back to the stage-3 value.
func (it *Item) FinalConfidence() int {
	if it.Stage4 != nil {
		return it.Stage4.FinalConfidence
	}
	if it.Stage3 != nil {
		return it.Stage3.Confidence
	}
	return 0
}
