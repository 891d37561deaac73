package protocol

import "fmt"

type Vector3 struct {
	X, Y, Z float32
}

type Quaternion struct {
	X, Y, Z, W float32
}

// IdentityQuaternion is the rotation a freshly tracked client starts with.
var IdentityQuaternion = Quaternion{W: 1}

// GizmoMode mirrors the editor's transform tool selection.
type GizmoMode int32

const (
	GizmoModeNone GizmoMode = iota
	GizmoModeMove
	GizmoModeRotate
	GizmoModeScale
)

var (
	_ Message = (*ChatMessage)(nil)
	_ Message = (*SetUsername)(nil)
	_ Message = (*ChangeChannel)(nil)
	_ Message = (*SceneOpened)(nil)
	_ Message = (*UpdateGizmo)(nil)
	_ Message = (*SetNetID)(nil)
	_ Message = (*AddRemoveTrackedGizmo)(nil)
)

type ChatMessage struct {
	Username string
	Text     string
	// Timestamp is unix milliseconds.
	Timestamp       int64
	IsSystemMessage bool
}

func (*ChatMessage) Type() MessageType { return TypeChatMessage }

func (m *ChatMessage) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putString(m.Username)
	w.putString(m.Text)
	w.putInt64(m.Timestamp)
	w.putBool(m.IsSystemMessage)
	return w.bytes()
}

func (m *ChatMessage) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.Username = r.readString()
	m.Text = r.readString()
	m.Timestamp = r.readInt64()
	m.IsSystemMessage = r.readBool()
	return r.finish()
}

func (m *ChatMessage) String() string {
	if m.IsSystemMessage {
		return fmt.Sprintf("* %s", m.Text)
	}
	return fmt.Sprintf("(%s): %s", m.Username, m.Text)
}

type SetUsername struct {
	Username string
}

func (*SetUsername) Type() MessageType { return TypeSetUsername }

func (m *SetUsername) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putString(m.Username)
	return w.bytes()
}

func (m *SetUsername) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.Username = r.readString()
	return r.finish()
}

type ChangeChannel struct {
	Channel string
}

func (*ChangeChannel) Type() MessageType { return TypeChangeChannel }

func (m *ChangeChannel) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putString(m.Channel)
	return w.bytes()
}

func (m *ChangeChannel) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.Channel = r.readString()
	return r.finish()
}

type SceneOpened struct {
	SceneName string
}

func (*SceneOpened) Type() MessageType { return TypeSceneOpened }

func (m *SceneOpened) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putString(m.SceneName)
	return w.bytes()
}

func (m *SceneOpened) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.SceneName = r.readString()
	return r.finish()
}

type UpdateGizmo struct {
	ClientID int32
	Mode     GizmoMode
	Position Vector3
	Rotation Quaternion
	Scale    Vector3
	// SelectedObject is an opaque reference to whatever the remote has
	// selected. resolving it is up to the UI.
	SelectedObject string
}

func (*UpdateGizmo) Type() MessageType { return TypeUpdateGizmo }

func (m *UpdateGizmo) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putInt32(m.ClientID)
	w.putInt32(int32(m.Mode))
	w.putVector3(m.Position)
	w.putQuaternion(m.Rotation)
	w.putVector3(m.Scale)
	w.putString(m.SelectedObject)
	return w.bytes()
}

func (m *UpdateGizmo) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.ClientID = r.readInt32()
	m.Mode = GizmoMode(r.readInt32())
	m.Position = r.readVector3()
	m.Rotation = r.readQuaternion()
	m.Scale = r.readVector3()
	m.SelectedObject = r.readString()
	return r.finish()
}

type SetNetID struct {
	ClientID int32
}

func (*SetNetID) Type() MessageType { return TypeSetNetID }

func (m *SetNetID) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putInt32(m.ClientID)
	return w.bytes()
}

func (m *SetNetID) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.ClientID = r.readInt32()
	return r.finish()
}

// AddRemoveTrackedGizmo tells a client to start or stop tracking a remote.
// both flags may be set; adding is applied first.
type AddRemoveTrackedGizmo struct {
	ClientID int32
	Adding   bool
	Removing bool
}

func (*AddRemoveTrackedGizmo) Type() MessageType { return TypeAddRemoveTrackedGizmo }

func (m *AddRemoveTrackedGizmo) MarshalBinary() ([]byte, error) {
	w := writer{}
	w.putInt32(m.ClientID)
	w.putBool(m.Adding)
	w.putBool(m.Removing)
	return w.bytes()
}

func (m *AddRemoveTrackedGizmo) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	m.ClientID = r.readInt32()
	m.Adding = r.readBool()
	m.Removing = r.readBool()
	return r.finish()
}
