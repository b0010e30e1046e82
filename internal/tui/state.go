package tui

import "time"

type Snapshot struct {
	Timestamp   time.Time
	Repos       []RepoState
	Events      []EventState // newest first
	WorkerCount int
}

type RepoState struct {
	Owner   string
	Name    string
	PRs     []PRState
	Workers int
}

type PRState struct {
	Number    int
	Title     string
	Status    string // pending|watching|draft|quiet|ready|blocked|merged|closed|timeout|gone|error
	Author    string
	HasWorker bool
}

type EventState struct {
	PR     string
	Kind   string
	Detail string
	At     time.Time
}
