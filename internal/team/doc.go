// Package team partitions graded exam attempts into fixed-size teams.
//
// Matching is a pure function over in-memory input. Attempts are first put into a
// single ordered sequence by one of two policies:
//
//   - ModeRank orders by overall score, highest first.
//   - ModeBalanced keeps that order inside three buckets keyed by each student's
//     primary skill and interleaves the buckets over the cycle cs, collab, ai.
//
// The ordered sequence is then dealt round-robin: position i goes to team
// i mod teamCount, where teamCount = ceil(N / teamSize). The team size only
// determines the number of teams; it does not cap membership, so teams may
// differ in size by one.
//
// Every assignment carries a human-readable reason. Reasons are rendered by an
// Explainer so callers can localize them.
package team
