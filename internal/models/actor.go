package models

type Role string

const (
	RoleUser     Role = "USER"
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
)

// Actor is whoever requests a lifecycle change.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionCancel  Action = "CANCEL"
	ActionVerify  Action = "VERIFY"
)
