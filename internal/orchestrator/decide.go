package orchestrator

import (
	"github.com/danielpatrickdp/organism/internal/meaning"
	"github.com/danielpatrickdp/organism/internal/memory"
	"github.com/danielpatrickdp/organism/internal/state"
)

// #region constants

// dampenRecall is the activated significance above which a recalled
// experience forces dampening.
const dampenRecall = 0.5

// #endregion

// #region decide

// Decide picks exactly one of ignore, absorb or dampen. Strong recall of a
// similar past event wins; otherwise the interpreter's hint only decides
// between ignoring and absorbing. Decide reads its inputs and writes nothing.
func Decide(_ state.Vitals, activated []memory.Entry, m meaning.Meaning) meaning.Pattern {
	if len(activated) > 0 && memory.MaxSignificance(activated) > dampenRecall {
		return meaning.PatternDampen
	}
	if m.Hint == meaning.PatternIgnore {
		return meaning.PatternIgnore
	}
	return meaning.PatternAbsorb
}

// #endregion
