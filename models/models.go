package models

import "time"

type Identity struct {
	Key           string
	DisplayName   string
	AvatarRef     string
	Provider      string
	Authenticated bool
	LastActive    time.Time
}

type Board struct {
	Code        string
	OwnerKey    string
	DisplayName string
	Created     time.Time
}

// Segment is the geometry a client draws: one line from (X0,Y0) to (X1,Y1).
type Segment struct {
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

type Stroke struct {
	Id      string `json:"id"`
	BoardId string `json:"boardId"`
	Segment
	Timestamp time.Time `json:"timestamp"`
}

type PresenceEntry struct {
	ConnectionId string `json:"id"`
	DisplayName  string `json:"name"`
	AvatarRef    string `json:"profile_p"`
}
