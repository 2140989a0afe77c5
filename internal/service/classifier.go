package service

import (
	"github.com/Guizzs26/go-inventory-agent/internal/remote"
)

// Class is the three-way verdict on one dispatch outcome.
type Class int

const (
	ClassSuccess Class = iota
	ClassPermanent
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Classification pairs the verdict with the status code and diagnostic
// that produced it.
type Classification struct {
	Class  Class
	Code   int
	Detail string
}

// Classify maps a dispatch outcome to exactly one class. This is the most
// consequential policy in the agent: a permanent failure mislabeled as
// transient blocks the whole queue behind it, and a transient failure
// mislabeled as permanent silently loses user data. Unknown codes fail
// open toward "try again".
//
// Policy by status code, when a response was received at all:
//
//	2xx                 -> success
//	400, 404, 409, 422  -> permanent (won't succeed on a bare retry)
//	401, 403            -> transient (credential state may change after re-login)
//	408, 429            -> transient (timeout / rate limit)
//	5xx                 -> transient (server fault, expected to self-heal)
//	no response (0)     -> transient, no code recorded
//	anything else       -> transient
func Classify(o remote.Outcome) Classification {
	switch o.Hint {
	case remote.HintSuccess:
		return Classification{Class: ClassSuccess, Code: o.Code}
	case remote.HintPermanent:
		return Classification{Class: ClassPermanent, Code: o.Code, Detail: o.Detail}
	case remote.HintTransient:
		return Classification{Class: ClassTransient, Code: o.Code, Detail: o.Detail}
	}

	if o.Code >= 200 && o.Code < 300 {
		return Classification{Class: ClassSuccess, Code: o.Code}
	}

	switch o.Code {
	case 400, 404, 409, 422:
		return Classification{Class: ClassPermanent, Code: o.Code, Detail: o.Detail}
	case 401, 403, 408, 429:
		return Classification{Class: ClassTransient, Code: o.Code, Detail: o.Detail}
	}

	return Classification{Class: ClassTransient, Code: o.Code, Detail: o.Detail}
}
