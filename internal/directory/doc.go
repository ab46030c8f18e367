// Package directory manages agents: registration, skills, presence.
//
// Service owns all agent-side mutations. Availability transitions carry
// side effects: coming online drains the waiting queue onto the agent,
// going offline redistributes everything the agent held, and busy simply
// removes the agent from the eligible pool.
//
// Sweeper backs up explicit transitions with a heartbeat timeout: agents
// that stop heartbeating are forced offline on the next sweep and their
// conversations redistributed, exactly once, since swept agents drop out
// of the stale query.
package directory
