// Package flow defines the dialogue flow model: declarative flow
// definitions, the compiler that turns them into immutable subgraphs,
// and the slot validators applied when values are stored.
//
// A Definition is authored data (typically loaded from YAML, see
// LoadYAML). Compile validates a set of definitions against the known
// validators and action signatures and materializes each flow as a
// Subgraph: a directed graph of executable step nodes with outgoing
// edges keyed by routing tag. Compilation happens once at startup;
// compiled sets are read-only and safe for concurrent use.
package flow

// SlotType enumerates the declared types a slot value is checked
// against when stored.
type SlotType string

const (
	// SlotString accepts any scalar and stores its string form.
	SlotString SlotType = "string"
	// SlotNumber stores a float64.
	SlotNumber SlotType = "number"
	// SlotBoolean stores a bool. String forms such as "yes" and "no"
	// are recognized.
	SlotBoolean SlotType = "boolean"
	// SlotEnum stores one of the values declared on the slot.
	SlotEnum SlotType = "enum"
	// SlotDate stores an ISO 8601 calendar date string (2006-01-02).
	SlotDate SlotType = "date"
	// SlotStructured stores decoded JSON (maps, lists) optionally
	// checked against the slot's JSON schema.
	SlotStructured SlotType = "structured"
)

// Kind identifies the variant of a step node.
type Kind string

const (
	KindCollect Kind = "collect"
	KindSay     Kind = "say"
	KindInform  Kind = "inform"
	KindConfirm Kind = "confirm"
	KindAction  Kind = "action"
	KindBranch  Kind = "branch"
	KindWhile   Kind = "while"
	KindJump    Kind = "jump"
	KindEnd     Kind = "end"
)

// Tag labels an outgoing edge of a step node. Branch steps route by
// case value instead of tags.
type Tag string

const (
	// TagDone is the ordinary continuation edge.
	TagDone Tag = "done"
	// TagBody is the edge a while step takes when its condition holds.
	TagBody Tag = "body"
	// TagActionError is the edge an action step takes when its handler
	// fails. A step without one ends the flow with an error result.
	TagActionError Tag = "action_error"
	// TagDenied is the edge a confirm step takes when the user denies.
	// A step without one ends the flow with a cancelled result.
	TagDenied Tag = "denied"
)

type (
	// Definition is the authored description of a single flow.
	Definition struct {
		// Name is the definition key. Required, unique within a set.
		Name string `yaml:"name"`
		// Description tells the NLU when this flow applies. It is
		// surfaced verbatim in the understanding context, so write it
		// for the model, not for developers.
		Description string `yaml:"description"`
		// Slots declares the values the flow collects or computes.
		Slots []SlotSpec `yaml:"slots"`
		// Outputs names the values the flow exposes to its caller on
		// completion.
		Outputs []string `yaml:"outputs"`
		// Start is the id of the initial step. Defaults to the first
		// declared step.
		Start string `yaml:"start"`
		// Steps lists the flow's steps in declaration order. A step
		// without an explicit next edge continues to the step that
		// follows it here.
		Steps []StepDef `yaml:"steps"`
	}

	// SlotSpec declares a single slot.
	SlotSpec struct {
		Name string   `yaml:"name"`
		Type SlotType `yaml:"type"` // defaults to string
		// Validator names a registered validator run after type
		// coercion. Optional.
		Validator string `yaml:"validator"`
		// Prompt is the default collect prompt for this slot. A
		// collect step may override it.
		Prompt string `yaml:"prompt"`
		// Values lists the admissible values of an enum slot.
		Values []string `yaml:"values"`
		// Schema is a JSON schema document checked against structured
		// slot values.
		Schema map[string]any `yaml:"schema"`
	}

	// StepDef is the authored form of one step. Exactly one variant
	// field must be set.
	StepDef struct {
		ID string `yaml:"id"`

		Collect *CollectDef `yaml:"collect"`
		Say     *SayDef     `yaml:"say"`
		Inform  *InformDef  `yaml:"inform"`
		Confirm *ConfirmDef `yaml:"confirm"`
		Action  *ActionDef  `yaml:"action"`
		Branch  *BranchDef  `yaml:"branch"`
		While   *WhileDef   `yaml:"while"`
		Jump    *JumpDef    `yaml:"jump"`
		End     *EndDef     `yaml:"end"`

		// Next is the target of the done edge. Empty means the next
		// step in declaration order. Branch, jump and end steps do not
		// take one.
		Next string `yaml:"next"`
		// OnError is the target of an action step's error edge.
		OnError string `yaml:"on_error"`
		// OnDeny is the target of a confirm step's denial edge.
		OnDeny string `yaml:"on_deny"`
	}

	// CollectDef asks the user for a slot value and suspends until one
	// arrives.
	CollectDef struct {
		Slot string `yaml:"slot"`
		// Prompt overrides the slot's default prompt.
		Prompt string `yaml:"prompt"`
		// Validator overrides the slot's validator for values supplied
		// at this step.
		Validator string `yaml:"validator"`
	}

	// SayDef renders a message and continues.
	SayDef struct {
		Template string `yaml:"template"`
	}

	// InformDef delivers a message. With WaitForAck the flow suspends
	// until the user responds.
	InformDef struct {
		Template   string `yaml:"template"`
		WaitForAck bool   `yaml:"wait_for_ack"`
	}

	// ConfirmDef asks a yes/no question and suspends for the answer.
	ConfirmDef struct {
		Template string `yaml:"template"`
	}

	// ActionDef invokes a registered action handler. Inputs maps the
	// handler's input keys to slot names; Outputs maps its output keys
	// to slot or output names. The shorthand sequence form maps names
	// to themselves.
	ActionDef struct {
		Name    string  `yaml:"name"`
		Inputs  Mapping `yaml:"inputs"`
		Outputs Mapping `yaml:"outputs"`
	}

	// BranchDef routes on a slot value: the matching case key wins,
	// otherwise the default.
	BranchDef struct {
		Slot    string            `yaml:"slot"`
		Cases   map[string]string `yaml:"cases"`
		Default string            `yaml:"default"`
	}

	// WhileDef loops over the body steps while the condition holds.
	// Conditions take the form "slot", "slot == literal",
	// "slot < literal" and so on; see compileCondition.
	WhileDef struct {
		Condition string `yaml:"condition"`
		Body      string `yaml:"body"`
	}

	// JumpDef transfers control to another step in the same flow.
	JumpDef struct {
		Target string `yaml:"target"`
	}

	// EndDef terminates the flow and publishes its outputs: each key
	// is a declared output name, each value the slot it reads from.
	// The shorthand sequence form reads same-named slots or values an
	// action already wrote to the instance outputs.
	EndDef struct {
		Outputs Mapping `yaml:"outputs"`
	}
)

// kind reports the variant of the step and how many variant fields are
// set. Compilation rejects anything other than exactly one.
func (s StepDef) kind() (Kind, int) {
	var (
		k Kind
		n int
	)
	if s.Collect != nil {
		k, n = KindCollect, n+1
	}
	if s.Say != nil {
		k, n = KindSay, n+1
	}
	if s.Inform != nil {
		k, n = KindInform, n+1
	}
	if s.Confirm != nil {
		k, n = KindConfirm, n+1
	}
	if s.Action != nil {
		k, n = KindAction, n+1
	}
	if s.Branch != nil {
		k, n = KindBranch, n+1
	}
	if s.While != nil {
		k, n = KindWhile, n+1
	}
	if s.Jump != nil {
		k, n = KindJump, n+1
	}
	if s.End != nil {
		k, n = KindEnd, n+1
	}
	return k, n
}
