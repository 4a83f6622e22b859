package model

// Action is the enumerated request tag that selects a handler.
type Action string

const (
	ActionCreate           Action = "create"
	ActionCreateTimeseries Action = "createTimeseries"
	ActionRetrieve         Action = "retrieve"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionCount            Action = "count"
	ActionDistinct         Action = "distinct"
	ActionCreateCollection Action = "createCollection"
	ActionRenameCollection Action = "renameCollection"
	ActionDropCollection   Action = "dropCollection"
	ActionIndex            Action = "index"
	ActionDropIndex        Action = "dropIndex"
	ActionBulk             Action = "bulk"
	ActionPipeline         Action = "pipeline"
	ActionTransaction      Action = "transaction"
)

var actions = map[string]Action{
	string(ActionCreate):           ActionCreate,
	string(ActionCreateTimeseries): ActionCreateTimeseries,
	string(ActionRetrieve):         ActionRetrieve,
	string(ActionUpdate):           ActionUpdate,
	string(ActionDelete):           ActionDelete,
	string(ActionCount):            ActionCount,
	string(ActionDistinct):         ActionDistinct,
	string(ActionCreateCollection): ActionCreateCollection,
	string(ActionRenameCollection): ActionRenameCollection,
	string(ActionDropCollection):   ActionDropCollection,
	string(ActionIndex):            ActionIndex,
	string(ActionDropIndex):        ActionDropIndex,
	string(ActionBulk):             ActionBulk,
	string(ActionPipeline):         ActionPipeline,
	string(ActionTransaction):      ActionTransaction,
}

// ParseAction maps a request tag to its Action. ok is false for an
// unrecognized tag.
func ParseAction(s string) (Action, bool) {
	a, ok := actions[s]
	return a, ok
}

// Mutating reports whether the action writes user data or schema. Mutating
// actions may not target the version-history location.
func (a Action) Mutating() bool {
	switch a {
	case ActionRetrieve, ActionCount, ActionDistinct, ActionPipeline:
		return false
	default:
		return true
	}
}

func (a Action) String() string {
	return string(a)
}
