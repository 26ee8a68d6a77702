package units

import (
	"fmt"
	"math/big"
)

// ProposalState mirrors the governor proposal states.
type ProposalState uint8

const (
	ProposalPending ProposalState = iota
	ProposalActive
	ProposalCanceled
	ProposalDefeated
	ProposalSucceeded
	ProposalQueued
	ProposalExpired
	ProposalExecuted
)

var proposalStateNames = []string{"Pending", "Active", "Canceled", "Defeated", "Succeeded", "Queued", "Expired", "Executed"}

func (s ProposalState) String() string {
	if int(s) < len(proposalStateNames) {
		return proposalStateNames[s]
	}
	return fmt.Sprintf("ProposalState(%d)", uint8(s))
}

// VoteType mirrors the governor vote options.
type VoteType uint8

const (
	VoteAgainst VoteType = iota
	VoteFor
	VoteAbstain
)

var voteTypeNames = []string{"Against", "For", "Abstain"}

func (v VoteType) String() string {
	if int(v) < len(voteTypeNames) {
		return voteTypeNames[v]
	}
	return fmt.Sprintf("VoteType(%d)", uint8(v))
}

// Enums assigns consecutive ordinals to names, the way Solidity numbers
// enum members. Useful for ad-hoc enums the protocol adds later.
func Enums(names ...string) map[string]*big.Int {
	m := make(map[string]*big.Int, len(names))
	for i, name := range names {
		m[name] = big.NewInt(int64(i))
	}
	return m
}
