// ABOUTME: Pure skill-matching logic: eligibility predicates and fitness scoring
// ABOUTME: No side effects; callers persist the computed scores as an audit trail

package matching

import "github.com/relaywise/supportd/internal/store"

// Score weights. Language fit dominates domain fit.
const (
	languageWeight = 20
	domainWeight   = 15
)

// Requirement is a conversation's skill-requirement snapshot: the preferred
// language and domain captured at creation. Empty fields mean "no preference".
type Requirement struct {
	Language string
	Domain   string
}

// RequirementFor extracts the skill requirement from a conversation
func RequirementFor(conv *store.Conversation) Requirement {
	return Requirement{
		Language: conv.PreferredLanguage,
		Domain:   conv.PreferredDomain,
	}
}

// IsEmpty reports whether the requirement has no preferences at all
func (r Requirement) IsEmpty() bool {
	return r.Language == "" && r.Domain == ""
}

// Eligible reports whether an agent can handle a conversation with the given
// requirement. Three explicit cases:
//
//   - both language and domain requested: the agent must hold BOTH matching
//     skills; there is no fallback to skill-agnostic routing
//   - only one requested: the agent needs just that one skill
//   - neither requested: every agent is eligible
//
// Availability and capacity are not checked here; that is the engine's job.
func Eligible(agent *store.Agent, req Requirement) bool {
	if req.Language != "" {
		if _, ok := agent.SkillByType(store.SkillTypeLanguage, req.Language); !ok {
			return false
		}
	}
	if req.Domain != "" {
		if _, ok := agent.SkillByType(store.SkillTypeDomain, req.Domain); !ok {
			return false
		}
	}
	return true
}

// Score computes the deterministic ranking key for an eligible agent:
//
//	languageProficiency*20 + domainProficiency*15
//
// A dimension that was not requested contributes 0. Callers break score ties
// by lowest current active-conversation count.
func Score(agent *store.Agent, req Requirement) (total, languageScore, domainScore int) {
	if req.Language != "" {
		if skill, ok := agent.SkillByType(store.SkillTypeLanguage, req.Language); ok {
			languageScore = skill.Proficiency * languageWeight
		}
	}
	if req.Domain != "" {
		if skill, ok := agent.SkillByType(store.SkillTypeDomain, req.Domain); ok {
			domainScore = skill.Proficiency * domainWeight
		}
	}
	return languageScore + domainScore, languageScore, domainScore
}
