package dynamo

import (
	"strings"
	"time"

	"github.com/zlnvch/doodleup/models"
)

const (
	strokePKPrefix = "STROKE#"
	boardPK        = "BOARDS"
)

type dynamoStroke struct {
	PK        string  `dynamodbav:"PK"`
	SK        string  `dynamodbav:"SK"`
	BoardId   string  `dynamodbav:"BoardId"`
	X0        float64 `dynamodbav:"X0"`
	Y0        float64 `dynamodbav:"Y0"`
	X1        float64 `dynamodbav:"X1"`
	Y1        float64 `dynamodbav:"Y1"`
	Color     string  `dynamodbav:"Color"`
	Width     float64 `dynamodbav:"Width"`
	Timestamp int64   `dynamodbav:"Timestamp"`
}

// Map domain Stroke -> Dynamo
func strokeToDynamo(s models.Stroke) dynamoStroke {
	return dynamoStroke{
		PK:        strokePKPrefix + s.BoardId,
		SK:        s.Id,
		BoardId:   s.BoardId,
		X0:        s.X0,
		Y0:        s.Y0,
		X1:        s.X1,
		Y1:        s.Y1,
		Color:     s.Color,
		Width:     s.Width,
		Timestamp: s.Timestamp.UnixMilli(),
	}
}

// Map Dynamo -> domain Stroke
func strokeFromDynamo(ds dynamoStroke) models.Stroke {
	boardId := ds.BoardId
	if boardId == "" {
		boardId = strings.TrimPrefix(ds.PK, strokePKPrefix)
	}
	return models.Stroke{
		Id:      ds.SK,
		BoardId: boardId,
		Segment: models.Segment{
			X0:    ds.X0,
			Y0:    ds.Y0,
			X1:    ds.X1,
			Y1:    ds.Y1,
			Color: ds.Color,
			Width: ds.Width,
		},
		Timestamp: time.UnixMilli(ds.Timestamp).UTC(),
	}
}

type dynamoBoard struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	OwnerKey    string `dynamodbav:"OwnerKey"`
	DisplayName string `dynamodbav:"DisplayName"`
	Created     int64  `dynamodbav:"Created"`
}

func boardToDynamo(b models.Board) dynamoBoard {
	return dynamoBoard{
		PK:          boardPK,
		SK:          b.Code,
		OwnerKey:    b.OwnerKey,
		DisplayName: b.DisplayName,
		Created:     b.Created.UnixMilli(),
	}
}

func boardFromDynamo(db dynamoBoard) models.Board {
	return models.Board{
		Code:        db.SK,
		OwnerKey:    db.OwnerKey,
		DisplayName: db.DisplayName,
		Created:     time.UnixMilli(db.Created).UTC(),
	}
}
