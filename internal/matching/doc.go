// Package matching scores agents against a conversation's skill needs.
//
// A conversation may require a language, a domain, both, or neither. An
// agent is eligible only when it covers every requirement the conversation
// has; a partial match is no match. Scores weight language proficiency
// above domain proficiency so a strong language fit wins.
package matching
