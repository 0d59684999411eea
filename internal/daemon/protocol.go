package daemon

import (
	"encoding/json"

	"github.com/untoldecay/healer/internal/storage"
)

// Action constants for all control commands.
const (
	ActionPing          = "ping"
	ActionStartIC       = "start_ic"
	ActionStartRequest  = "start_request"
	ActionStartLink     = "start_link"
	ActionStartGroup    = "start_group"
	ActionStopSession   = "stop_session"
	ActionUpdateEntity  = "update_entity"
	ActionRemoveEntity  = "remove_entity"
	ActionAddMember     = "add_member_to_group"
	ActionRemoveMember  = "remove_member_from_group"
	ActionRemoveGroup   = "remove_group"
	ActionFailOnTarget  = "fail_sessions_on_target"
	ActionFailAll       = "fail_all_running"
	ActionRedoFailed    = "redo_failed"
	ActionViewRunningOn = "view_running_on"

	// Catalog actions used by the CLI front-end.
	ActionCreateEntity = "create_entity"
	ActionCreateGroup  = "create_group"
	ActionListEntities = "list_entities"
)

// StatusSuccess and StatusError are the two reply statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is one control message: a tagged action plus its payload.
// One command is read per accepted connection.
type Command struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Reply is the generic response shape. Specialized replies embed the same
// status/message pair and add fields.
type Reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func ok(message string) Reply {
	return Reply{Status: StatusSuccess, Message: message}
}

// StartICArgs starts a single IC on an avatar or an avatar group.
type StartICArgs struct {
	ICID        int64  `json:"ic_id"`
	AvatarID    *int64 `json:"avatar_id,omitempty"`
	AvatarGroup string `json:"avatar_group,omitempty"`
	Duration    *int   `json:"duration,omitempty"` // minutes; nil means run forever
}

// StartRequestArgs starts a request (or request group) on an avatar or
// avatar group.
type StartRequestArgs struct {
	AvatarID     *int64 `json:"avatar_id,omitempty"`
	AvatarGroup  string `json:"avatar_group,omitempty"`
	RequestID    *int64 `json:"request_id,omitempty"`
	RequestGroup string `json:"request_group,omitempty"`
	Duration     *int   `json:"duration,omitempty"`
}

// StartLinkArgs links a source avatar to a destination avatar or group.
type StartLinkArgs struct {
	SourceID  int64  `json:"source_id"`
	DestID    *int64 `json:"dest_id,omitempty"`
	DestGroup string `json:"dest_group,omitempty"`
	Duration  *int   `json:"duration,omitempty"`
}

// StartGroupArgs starts an IC group on an avatar group.
type StartGroupArgs struct {
	AvatarGroup string `json:"avatar_group"`
	ICGroup     string `json:"ic_group"`
	Duration    *int   `json:"duration,omitempty"`
}

// StopSessionArgs stops a session; for a parent, its running children stop
// first.
type StopSessionArgs struct {
	SessionID int64 `json:"session_id"`
}

// UpdateEntityArgs is a partial entity update. Binary payloads travel
// base64-encoded.
type UpdateEntityArgs struct {
	EntityType   string  `json:"entity_type"`
	ID           int64   `json:"id"`
	Name         *string `json:"name,omitempty"`
	PhotoDataB64 *string `json:"photo_data_b64,omitempty"`
	InfoData     *string `json:"info_data,omitempty"`
	WavDataB64   *string `json:"wav_data_b64,omitempty"`
	RequestData  *string `json:"request_data,omitempty"`
}

// RemoveEntityArgs removes an entity, cascading to its sessions.
type RemoveEntityArgs struct {
	EntityType string `json:"entity_type"`
	ID         int64  `json:"id"`
}

// MemberArgs adds or removes a group member.
type MemberArgs struct {
	GroupType string `json:"group_type"` // avatar | ic | request
	GroupName string `json:"group_name"`
	MemberID  int64  `json:"member_id"`
}

// RemoveGroupArgs deletes a group and its memberships.
type RemoveGroupArgs struct {
	GroupType string `json:"group_type"`
	GroupName string `json:"group_name"`
}

// FailOnTargetArgs fails running sessions for an avatar id or avatar
// group name; exactly one must be set.
type FailOnTargetArgs struct {
	AvatarID    *int64 `json:"avatar_id,omitempty"`
	AvatarGroup string `json:"avatar_group,omitempty"`
}

// ViewArgs identifies an avatar by numeric string (id) or name.
type ViewArgs struct {
	AvatarIdentifier string `json:"avatar_identifier"`
}

// ViewRow is one running session in a view_running_on reply.
type ViewRow struct {
	SessionID       int64  `json:"session_id"`
	Type            string `json:"type"`
	Target          string `json:"target"`
	DurationMinutes *int   `json:"duration_minutes"`
}

// ViewReply is the view_running_on response.
type ViewReply struct {
	Status     string    `json:"status"`
	AvatarName string    `json:"avatar_name"`
	AvatarID   int64     `json:"avatar_id"`
	Data       []ViewRow `json:"data"`
}

// CreateEntityArgs creates a catalog entity. Binary payloads travel
// base64-encoded.
type CreateEntityArgs struct {
	EntityType   string `json:"entity_type"`
	Name         string `json:"name"`
	PhotoDataB64 string `json:"photo_data_b64,omitempty"`
	InfoData     string `json:"info_data,omitempty"`
	WavDataB64   string `json:"wav_data_b64,omitempty"`
	RequestData  string `json:"request_data,omitempty"`
}

// CreateEntityReply carries the new entity id.
type CreateEntityReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ID      int64  `json:"id"`
}

// CreateGroupArgs creates a named group.
type CreateGroupArgs struct {
	GroupType string `json:"group_type"`
	GroupName string `json:"group_name"`
}

// ListEntitiesArgs lists a catalog kind.
type ListEntitiesArgs struct {
	EntityType string `json:"entity_type"`
}

// ListEntitiesReply carries catalog listing rows.
type ListEntitiesReply struct {
	Status string              `json:"status"`
	Data   []storage.EntityRef `json:"data"`
}
