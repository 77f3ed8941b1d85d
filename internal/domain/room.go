package domain

// ConnID identifies one live socket. It is opaque to clients.
type ConnID string

// RoomID names a broadcast group. Every user owns the room named after
// their UserID.
type RoomID string

func RoomOf(uid UserID) RoomID { return RoomID(uid) }
