// ABOUTME: Tests for skill eligibility and scoring
// ABOUTME: Covers the dual-skill rule, single-skill fallback, and score weights

package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaywise/supportd/internal/store"
)

func agentWith(skills ...store.Skill) *store.Agent {
	return &store.Agent{ID: "agent-1", Name: "test", Skills: skills}
}

func TestEligible_BothDimensionsRequireBothSkills(t *testing.T) {
	req := Requirement{Language: "EN", Domain: "FINANCE"}

	both := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "EN", Proficiency: 3},
		store.Skill{Type: store.SkillTypeDomain, Code: "FINANCE", Proficiency: 2},
	)
	assert.True(t, Eligible(both, req))

	languageOnly := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "EN", Proficiency: 5},
	)
	assert.False(t, Eligible(languageOnly, req), "missing domain skill must exclude the agent")

	domainOnly := agentWith(
		store.Skill{Type: store.SkillTypeDomain, Code: "FINANCE", Proficiency: 5},
	)
	assert.False(t, Eligible(domainOnly, req), "missing language skill must exclude the agent")
}

func TestEligible_SingleDimension(t *testing.T) {
	req := Requirement{Language: "SI"}

	agent := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "SI", Proficiency: 1},
	)
	assert.True(t, Eligible(agent, req), "domain skills are irrelevant when only language is requested")

	wrongLanguage := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "HR", Proficiency: 5},
		store.Skill{Type: store.SkillTypeDomain, Code: "FINANCE", Proficiency: 5},
	)
	assert.False(t, Eligible(wrongLanguage, req))
}

func TestEligible_NoRequirement(t *testing.T) {
	req := Requirement{}
	assert.True(t, req.IsEmpty())

	noSkills := agentWith()
	assert.True(t, Eligible(noSkills, req), "skill-agnostic routing accepts any agent")
}

func TestEligible_CodeMustMatchType(t *testing.T) {
	// A domain skill with the right code must not satisfy a language requirement
	agent := agentWith(
		store.Skill{Type: store.SkillTypeDomain, Code: "EN", Proficiency: 5},
	)
	assert.False(t, Eligible(agent, Requirement{Language: "EN"}))
}

func TestScore_Weights(t *testing.T) {
	agent := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "EN", Proficiency: 4},
		store.Skill{Type: store.SkillTypeDomain, Code: "BILLING", Proficiency: 3},
	)

	total, lang, dom := Score(agent, Requirement{Language: "EN", Domain: "BILLING"})
	assert.Equal(t, 80, lang)
	assert.Equal(t, 45, dom)
	assert.Equal(t, 125, total)
}

func TestScore_UnrequestedDimensionContributesZero(t *testing.T) {
	agent := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "EN", Proficiency: 5},
		store.Skill{Type: store.SkillTypeDomain, Code: "BILLING", Proficiency: 5},
	)

	total, lang, dom := Score(agent, Requirement{Language: "EN"})
	assert.Equal(t, 100, lang)
	assert.Equal(t, 0, dom, "domain proficiency must not count when domain was not requested")
	assert.Equal(t, 100, total)
}

func TestScore_EmptyRequirementScoresZero(t *testing.T) {
	agent := agentWith(
		store.Skill{Type: store.SkillTypeLanguage, Code: "EN", Proficiency: 5},
	)

	total, lang, dom := Score(agent, Requirement{})
	assert.Zero(t, total)
	assert.Zero(t, lang)
	assert.Zero(t, dom)
}

func TestRequirementFor(t *testing.T) {
	conv := &store.Conversation{PreferredLanguage: "HR", PreferredDomain: "TECH"}
	req := RequirementFor(conv)
	assert.Equal(t, "HR", req.Language)
	assert.Equal(t, "TECH", req.Domain)
}
