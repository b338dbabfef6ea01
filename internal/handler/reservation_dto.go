package handler

import (
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/reservation"
)

// ----- request DTOs -----

type createReservationReq struct {
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	AttendeeCount       int       `json:"attendeeCount"`
	Department          string    `json:"department"`
	ContactEmail        string    `json:"contactEmail"`
	StartDateTime       time.Time `json:"startDateTime"`
	EndDateTime         time.Time `json:"endDateTime"`
	SetupTimeMinutes    int       `json:"setupTimeMinutes"`
	TeardownTimeMinutes int       `json:"teardownTimeMinutes"`
	SelectedRooms       []string  `json:"selectedRooms"`
	Draft               bool      `json:"draft"`
}

func (r createReservationReq) input() reservation.CreateInput {
	return reservation.CreateInput{
		Title:               r.Title,
		Description:         r.Description,
		AttendeeCount:       r.AttendeeCount,
		Department:          r.Department,
		ContactEmail:        r.ContactEmail,
		StartDateTime:       r.StartDateTime,
		EndDateTime:         r.EndDateTime,
		SetupTimeMinutes:    r.SetupTimeMinutes,
		TeardownTimeMinutes: r.TeardownTimeMinutes,
		SelectedRooms:       r.SelectedRooms,
		Draft:               r.Draft,
	}
}

// patchReservationReq carries a partial update.  ChangeKey is accepted as
// a fallback for clients that cannot set If-Match.
type patchReservationReq struct {
	ChangeKey           string     `json:"changeKey"`
	Title               *string    `json:"title"`
	Description         *string    `json:"description"`
	AttendeeCount       *int       `json:"attendeeCount"`
	Department          *string    `json:"department"`
	ContactEmail        *string    `json:"contactEmail"`
	StartDateTime       *time.Time `json:"startDateTime"`
	EndDateTime         *time.Time `json:"endDateTime"`
	SetupTimeMinutes    *int       `json:"setupTimeMinutes"`
	TeardownTimeMinutes *int       `json:"teardownTimeMinutes"`
	SelectedRooms       []string   `json:"selectedRooms"`
}

func (r patchReservationReq) patch() reservation.Patch {
	return reservation.Patch{
		Title:               r.Title,
		Description:         r.Description,
		AttendeeCount:       r.AttendeeCount,
		Department:          r.Department,
		ContactEmail:        r.ContactEmail,
		StartDateTime:       r.StartDateTime,
		EndDateTime:         r.EndDateTime,
		SetupTimeMinutes:    r.SetupTimeMinutes,
		TeardownTimeMinutes: r.TeardownTimeMinutes,
		SelectedRooms:       r.SelectedRooms,
	}
}

type tokenReq struct {
	ChangeKey string `json:"changeKey"`
}

// approveReq accepts forceApprove; force is kept as a shorter alias.
type approveReq struct {
	ChangeKey    string `json:"changeKey"`
	ForceApprove bool   `json:"forceApprove"`
	Force        bool   `json:"force"`
}

type rejectReq struct {
	ChangeKey string `json:"changeKey"`
	Reason    string `json:"reason"`
}

// ----- response DTOs -----

type revisionJSON struct {
	RevisionNumber int               `json:"revisionNumber"`
	ChangeKey      string            `json:"changeKey"`
	Timestamp      time.Time         `json:"timestamp"`
	ModifiedBy     string            `json:"modifiedBy"`
	Action         string            `json:"action"`
	Changes        []fieldChangeJSON `json:"changes"`
}

type reviewHistoryJSON struct {
	ReviewingBy string     `json:"reviewingBy"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ReleasedBy  string     `json:"releasedBy"`
	Outcome     string     `json:"outcome"`
}

type reservationJSON struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	AttendeeCount       int       `json:"attendeeCount"`
	RequestedBy         string    `json:"requestedBy"`
	Department          string    `json:"department,omitempty"`
	ContactEmail        string    `json:"contactEmail,omitempty"`
	StartDateTime       time.Time `json:"startDateTime"`
	EndDateTime         time.Time `json:"endDateTime"`
	SetupTimeMinutes    int       `json:"setupTimeMinutes"`
	TeardownTimeMinutes int       `json:"teardownTimeMinutes"`
	EffectiveStart      time.Time `json:"effectiveStart"`
	EffectiveEnd        time.Time `json:"effectiveEnd"`
	SelectedRooms       []string  `json:"selectedRooms"`

	Status          string `json:"status"`
	PreviousStatus  string `json:"previousStatus,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
	CalendarEventID string `json:"calendarEventId,omitempty"`

	ChangeKey      string    `json:"changeKey"`
	LastModified   time.Time `json:"lastModified"`
	LastModifiedBy string    `json:"lastModifiedBy"`

	ReviewStatus    string     `json:"reviewStatus"`
	ReviewingBy     *string    `json:"reviewingBy"`
	ReviewStartedAt *time.Time `json:"reviewStartedAt"`
	ReviewExpiresAt *time.Time `json:"reviewExpiresAt"`

	Revisions       []revisionJSON      `json:"revisions,omitempty"`
	ReviewHistory   []reviewHistoryJSON `json:"reviewHistory,omitempty"`
	ConflictDetails []conflictJSON      `json:"conflictDetails,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// mutationResp is the body of every successful write.  Warnings report
// calendar side effects that failed without undoing the write.
type mutationResp struct {
	reservationJSON
	Warnings []string `json:"warnings,omitempty"`
}

func toReservationJSON(r *model.Reservation, withHistory bool) reservationJSON {
	effStart, effEnd := r.EffectiveWindow()
	out := reservationJSON{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		AttendeeCount:       r.AttendeeCount,
		RequestedBy:         r.RequestedBy,
		Department:          r.Department,
		ContactEmail:        r.ContactEmail,
		StartDateTime:       r.StartDateTime,
		EndDateTime:         r.EndDateTime,
		SetupTimeMinutes:    r.SetupTimeMinutes,
		TeardownTimeMinutes: r.TeardownTimeMinutes,
		EffectiveStart:      effStart,
		EffectiveEnd:        effEnd,
		SelectedRooms:       r.SelectedRooms,
		Status:              string(r.Status),
		PreviousStatus:      string(r.PreviousStatus),
		RejectionReason:     r.RejectionReason,
		CalendarEventID:     r.CalendarEventID,
		ChangeKey:           r.ChangeKey,
		LastModified:        r.LastModified,
		LastModifiedBy:      r.LastModifiedBy,
		ReviewStatus:        string(r.ReviewStatus),
		ReviewingBy:         r.ReviewingBy,
		ReviewStartedAt:     r.ReviewStartedAt,
		ReviewExpiresAt:     r.ReviewExpiresAt,
		ConflictDetails:     toConflicts(r.ConflictDetails),
		CreatedAt:           r.CreatedAt,
	}
	if out.SelectedRooms == nil {
		out.SelectedRooms = []string{}
	}
	if !withHistory {
		return out
	}
	for _, rev := range r.Revisions {
		out.Revisions = append(out.Revisions, revisionJSON{
			RevisionNumber: rev.RevisionNumber,
			ChangeKey:      rev.ChangeKey,
			Timestamp:      rev.Timestamp,
			ModifiedBy:     rev.ModifiedBy,
			Action:         rev.Action,
			Changes:        toFieldChanges(rev.Changes),
		})
	}
	for _, h := range r.ReviewHistory {
		out.ReviewHistory = append(out.ReviewHistory, reviewHistoryJSON(h))
	}
	return out
}
