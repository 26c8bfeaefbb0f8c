package reservation

import "ms-reservation/internal/models"

type edge struct {
	from   models.Status
	action models.Action
}

// transitions lists every legal lifecycle edge. Anything missing is rejected.
var transitions = map[edge]models.Status{
	{models.StatusPending, models.ActionApprove}:  models.StatusConfirmed,
	{models.StatusPending, models.ActionReject}:   models.StatusRejected,
	{models.StatusPending, models.ActionCancel}:   models.StatusCancelled,
	{models.StatusConfirmed, models.ActionCancel}: models.StatusCancelled,
	{models.StatusConfirmed, models.ActionVerify}: models.StatusCompleted,
}

// NextStatus returns where action leads from, and false if the edge is illegal.
func NextStatus(from models.Status, action models.Action) (models.Status, bool) {
	to, ok := transitions[edge{from, action}]
	return to, ok
}

// releasesCapacity reports whether entering to gives the ledger ticket back.
func releasesCapacity(to models.Status) bool {
	return to == models.StatusRejected || to == models.StatusCancelled
}

// authorize checks the actor may perform action on r.
func authorize(actor models.Actor, action models.Action, r *models.Reservation) bool {
	switch action {
	case models.ActionApprove, models.ActionReject:
		return actor.Role == models.RoleAdmin
	case models.ActionCancel:
		if actor.Role == models.RoleAdmin {
			return true
		}
		return actor.Role == models.RoleUser && actor.ID != "" && actor.ID == r.ApplicantID
	case models.ActionVerify:
		return actor.Role == models.RoleAdmin || actor.Role == models.RoleOperator
	}
	return false
}
