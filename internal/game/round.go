package game

import (
	"fmt"
	"strings"
	"time"
)

// RoundStatus enumerates the judging lifecycle of one trick round.
type RoundStatus string

const (
	RoundAwaitingSet      RoundStatus = "awaiting_set"
	RoundAwaitingResponse RoundStatus = "awaiting_response"
	RoundResolved         RoundStatus = "resolved"
	RoundDisputed         RoundStatus = "disputed"
)

// RoundResult is the judged outcome of an attempt.
type RoundResult string

const (
	RoundResultLanded RoundResult = "landed"
	RoundResultMissed RoundResult = "missed"
)

// ParseRoundResult validates raw input against the closed result set.
func ParseRoundResult(value string) (RoundResult, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RoundResultLanded):
		return RoundResultLanded, nil
	case string(RoundResultMissed):
		return RoundResultMissed, nil
	default:
		return "", fmt.Errorf("game: unknown round result %q", value)
	}
}

// Slow-motion review policy for disputed clips. The playback rate is fixed at
// quarter speed: a 15 second clip stretches to a 60 second review window.
const (
	ReviewPlaybackRate   = 0.25
	ReviewSlowdownFactor = 4
	ReviewClipSeconds    = 15
	ReviewWindowSeconds  = ReviewClipSeconds * ReviewSlowdownFactor
)

// Round records one set-and-respond exchange for judging purposes. Video
// references are opaque to the engine.
type Round struct {
	ID         string      `gorm:"column:id;primaryKey;size:190;not null"`
	GameID     string      `gorm:"column:game_id;size:190;not null;index"`
	OffenseODV string      `gorm:"column:offense_odv;size:190;not null"`
	Status     RoundStatus `gorm:"column:status;size:32;not null"`
	Trick      string      `gorm:"column:trick;size:190;not null;default:''"`
	VideoRef   string      `gorm:"column:video_ref;size:512;not null;default:''"`
	Result     string      `gorm:"column:result;size:16;not null;default:''"`
	Disputed   bool        `gorm:"column:disputed;not null;default:false"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Round) TableName() string {
	return "game_rounds"
}

// DisputeStatus enumerates the dispute lifecycle.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute is a formal challenge against a judged round, reviewed in slow
// motion.
type Dispute struct {
	ID        string        `gorm:"column:id;primaryKey;size:190;not null"`
	GameID    string        `gorm:"column:game_id;size:190;not null;index"`
	RoundID   string        `gorm:"column:round_id;size:190;not null;index"`
	FiledBy   string        `gorm:"column:filed_by;size:190;not null"`
	Reason    string        `gorm:"column:reason;size:512;not null;default:''"`
	Status    DisputeStatus `gorm:"column:status;size:32;not null"`
	Ruling    string        `gorm:"column:ruling;size:32;not null;default:''"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Dispute) TableName() string {
	return "game_disputes"
}
