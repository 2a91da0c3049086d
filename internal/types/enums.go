package types

// Role is the authorization role carried by a caller's token.
type Role string

// Caller roles, lowest to highest
const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleHost   Role = "host"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleHost:   2,
	RoleAdmin:  3,
}

// Rank returns the position of r in the role order. Unknown roles rank lowest.
func (r Role) Rank() int {
	return roleRank[r]
}

func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// VoteChoice is a roll-call answer: yes, no or abstain.
type VoteChoice string

const (
	VoteYes     VoteChoice = "Y"
	VoteNo      VoteChoice = "N"
	VoteAbstain VoteChoice = "A"
)

var ValidVoteChoices = []VoteChoice{VoteYes, VoteNo, VoteAbstain}

func IsValidVoteChoice(choice VoteChoice) bool {
	for _, c := range ValidVoteChoices {
		if c == choice {
			return true
		}
	}
	return false
}

// Motion Status values
const (
	MotionOpen   = "OPEN"
	MotionClosed = "CLOSED"
)

// Meeting Status values
const (
	MeetingDraft  = "DRAFT"
	MeetingActive = "ACTIVE"
	MeetingClosed = "CLOSED"
)

// Audit actions
const (
	ActionAddMember  = "ADD_MEMBER"
	ActionOpenMotion = "OPEN_MOTION"
	ActionVote       = "VOTE"
	ActionRevoke     = "REVOKE"
)

// Audited entity types
const (
	EntityMember = "member"
	EntityMotion = "motion"
	EntityVote   = "vote"
)

// DefaultMemberTitle is used when a member is added without a display title.
const DefaultMemberTitle = "General Member"
