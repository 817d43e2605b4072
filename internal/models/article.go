// Package models defines the domain types shared by distwiki packages.
package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of a submitted transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// TransactionRecord is the ledger's durable view of one broadcast transaction.
type TransactionRecord struct {
	Hash        string    `json:"hash"`
	Description string    `json:"description"`
	Nonce       uint64    `json:"nonce"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Action is a TransactionRecord reduced for display in a "recent actions" list.
type Action struct {
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// ArticleVersion is one commit in an article's on-chain history.
type ArticleVersion struct {
	ContentID string         `json:"content_id"`
	Author    common.Address `json:"author"`
	Timestamp time.Time      `json:"timestamp"`
}

// LocalArticle describes a locally cached article copy.
type LocalArticle struct {
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
