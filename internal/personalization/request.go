package personalization

import "strings"

// LearningLevel is the depth at which content should be explained
type LearningLevel string

const (
	LevelBeginner     LearningLevel = "Beginner"
	LevelIntermediate LearningLevel = "Intermediate"
	LevelAdvanced     LearningLevel = "Advanced"
)

// ContentType is an optional preference for the shape of the explanation
type ContentType string

const (
	ContentDefault        ContentType = "Default"
	ContentConcise        ContentType = "Concise"
	ContentDetailed       ContentType = "Detailed"
	ContentWithAnalogies  ContentType = "WithAnalogies"
	ContentIncludeVisuals ContentType = "IncludeVisuals"
)

const (
	maxTopicLength = 255
	maxNoteLength  = 1000
)

// Request describes one content-generation request. It is validated when the
// stream is initiated and treated as immutable afterwards.
type Request struct {
	Topic         string        `json:"topic"`
	LearningLevel LearningLevel `json:"learningLevel"`
	Note          string        `json:"note,omitempty"`
	ContentType   ContentType   `json:"contentType,omitempty"`
}

// Validate returns a field-to-message error map, or nil if the request is valid
func (r Request) Validate() map[string]string {
	errs := make(map[string]string)

	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		errs["topic"] = "The topic field is required."
	} else if len(r.Topic) > maxTopicLength {
		errs["topic"] = "The topic may not be greater than 255 characters."
	}

	switch r.LearningLevel {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
	case "":
		errs["learningLevel"] = "The learning level field is required."
	default:
		errs["learningLevel"] = "The selected learning level is invalid."
	}

	if len(r.Note) > maxNoteLength {
		errs["note"] = "The note may not be greater than 1000 characters."
	}

	switch r.ContentType {
	case "", ContentDefault, ContentConcise, ContentDetailed, ContentWithAnalogies, ContentIncludeVisuals:
	default:
		errs["contentType"] = "The selected content type is invalid."
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
