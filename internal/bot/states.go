package bot

// Flow states. A user with no in-memory state is rederived from the
// profile: complete profile -> StateComplete, otherwise StateIdle.
const (
	StateIdle            = "idle"
	StateCollectingName  = "collecting:name"
	StateCollectingDate  = "collecting:date"
	StateCollectingTime  = "collecting:time"
	StateCollectingPlace = "collecting:place"
	StateComplete        = "complete"

	// Editing states are StateEditingPrefix + field name.
	StateEditingPrefix = "editing:"
)

const (
	FieldName  = "name"
	FieldDate  = "date"
	FieldTime  = "time"
	FieldPlace = "place"
)

type UserState struct {
	Step string
}
