package room

import (
	"encoding/json"
)

// MessageType identifies an inbound client message
type MessageType string

const (
	MessageSelectObject  MessageType = "select-object"
	MessageSelectObjects MessageType = "select-objects"
	MessageDeselect      MessageType = "deselect"
	MessageAddToken      MessageType = "add-token"
	MessageMoveToken     MessageType = "move-token"
	MessageDeleteToken   MessageType = "delete-token"
	MessageClaimDM       MessageType = "claim-dm"
	MessageReleaseDM     MessageType = "release-dm"
)

// Inbound is the envelope every client message arrives in
type Inbound struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

type selectObjectPayload struct {
	ObjectID string `json:"objectId"`
}

type selectObjectsPayload struct {
	ObjectIDs json.RawMessage `json:"objectIds"`
	Mode      string          `json:"mode"`
}

type addTokenPayload struct {
	Name  string  `json:"name"`
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type moveTokenPayload struct {
	TokenID string  `json:"tokenId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type tokenRefPayload struct {
	TokenID string `json:"tokenId"`
}

type createCharacterPayload struct {
	Name     string `json:"name"`
	HP       int    `json:"hp"`
	MaxHP    int    `json:"maxHp"`
	Portrait string `json:"portrait"`
	OwnerUID string `json:"ownerUid"`
}

type updateNPCPayload struct {
	NPCID    string  `json:"npcId"`
	Name     *string `json:"name"`
	HP       *int    `json:"hp"`
	MaxHP    *int    `json:"maxHp"`
	Portrait *string `json:"portrait"`
}

type npcRefPayload struct {
	NPCID string `json:"npcId"`
}

type placeNPCTokenPayload struct {
	NPCID string  `json:"npcId"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type createPropPayload struct {
	Label    string  `json:"label"`
	ImageURL string  `json:"imageUrl"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

type updatePropPayload struct {
	PropID   string   `json:"propId"`
	Label    *string  `json:"label"`
	ImageURL *string  `json:"imageUrl"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Width    *float64 `json:"width"`
	Height   *float64 `json:"height"`
}

type propRefPayload struct {
	PropID string `json:"propId"`
}
