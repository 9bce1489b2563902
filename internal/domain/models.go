// Package domain defines the persistence models for specialists, service
// requests and registration dialogues. These types are mapped with GORM and
// form the core data layer of the dispatch backend.
package domain

import (
	"time"
)

// ServiceType identifies the trade a request needs and a specialist offers.
type ServiceType string

const (
	ServicePlumbing   ServiceType = "plumbing"
	ServiceElectrical ServiceType = "electrical"
	ServiceLocksmith  ServiceType = "locksmith"
	ServiceCarpenter  ServiceType = "carpenter"
)

// ServiceTypes lists every supported service type in display order.
var ServiceTypes = []ServiceType{ServicePlumbing, ServiceElectrical, ServiceLocksmith, ServiceCarpenter}

// Valid reports whether t is one of the supported service types.
func (t ServiceType) Valid() bool {
	switch t {
	case ServicePlumbing, ServiceElectrical, ServiceLocksmith, ServiceCarpenter:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a Request.
type RequestStatus string

const (
	StatusNew      RequestStatus = "new"
	StatusAccepted RequestStatus = "accepted"
)

// CanTransitionTo reports whether a request in status s may move to next.
// The only legal transition is new -> accepted.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	return s == StatusNew && next == StatusAccepted
}

// Specialist is a registered worker reachable through a messaging channel.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Identity: opaque channel identity (e.g. Telegram chat id); unique.
//   - Name: display name collected by the registration dialogue.
//   - Specialization: the one service type this specialist accepts.
//   - Districts: districts the specialist works in (JSON encoded).
//   - Phone: contact phone.
//   - Active: only active specialists receive broadcasts.
type Specialist struct {
	ID             string      `json:"id"             gorm:"type:char(36);primaryKey"`
	Identity       string      `json:"identity"       gorm:"type:varchar(64);not null;uniqueIndex:ux_specialist_identity" validate:"required,max=64"`
	Name           string      `json:"name"           gorm:"type:varchar(255);not null" validate:"required,max=255"`
	Specialization ServiceType `json:"specialization" gorm:"type:varchar(32);not null;index:idx_specialist_active_spec,priority:2" validate:"required,servicetype"`
	Districts      []string    `json:"districts"      gorm:"type:text;serializer:json" validate:"min=1,dive,required"`
	Phone          string      `json:"phone"          gorm:"type:varchar(32);not null" validate:"required,phone"`
	Active         bool        `json:"active"         gorm:"not null;index:idx_specialist_active_spec,priority:1"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Specialist.
func (Specialist) TableName() string { return "specialists" }

// Request is a single service order submitted through the web form.
// SpecialistID and AcceptedAt are set together with Status, exactly once,
// by the conditional claim update.
type Request struct {
	ID            string        `json:"id"                      gorm:"type:char(36);primaryKey"`
	ServiceType   ServiceType   `json:"service_type"            gorm:"type:varchar(32);not null;index:idx_request_type_status,priority:1"`
	Address       string        `json:"address"                 gorm:"type:varchar(512);not null"`
	Description   string        `json:"description"             gorm:"type:text;not null"`
	CommonProblem string        `json:"common_problem"          gorm:"type:varchar(255)"`
	Phone         string        `json:"phone"                   gorm:"type:varchar(32);not null"`
	Photo         *string       `json:"photo,omitempty"         gorm:"type:varchar(1024)"`
	Status        RequestStatus `json:"status"                  gorm:"type:varchar(16);not null;default:'new';check:status IN ('new','accepted');index:idx_request_type_status,priority:2"`
	SpecialistID  *string       `json:"specialist_id,omitempty" gorm:"type:char(36);index"`
	AcceptedAt    *time.Time    `json:"accepted_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"              gorm:"index"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// RequestFilter narrows request listings. Zero fields match everything.
type RequestFilter struct {
	Status      RequestStatus
	ServiceType ServiceType
}

// HasPhoto reports whether a photo reference is attached.
func (r *Request) HasPhoto() bool { return r.Photo != nil && *r.Photo != "" }

// DialogueStep is the state of an in-progress registration dialogue.
type DialogueStep string

const (
	StepName           DialogueStep = "name"
	StepSpecialization DialogueStep = "specialization"
	StepDistricts      DialogueStep = "districts"
	StepPhone          DialogueStep = "phone"
	StepDone           DialogueStep = "done"
)

// Next returns the step that follows s. StepDone is terminal.
func (s DialogueStep) Next() DialogueStep {
	switch s {
	case StepName:
		return StepSpecialization
	case StepSpecialization:
		return StepDistricts
	case StepDistricts:
		return StepPhone
	default:
		return StepDone
	}
}

// DialogueSession holds the partial answers of one identity's registration.
// Rows are deleted on completion and purged once ExpiresAt passes.
type DialogueSession struct {
	Identity       string       `gorm:"type:varchar(64);primaryKey"`
	Step           DialogueStep `gorm:"type:varchar(32);not null"`
	Name           string       `gorm:"type:varchar(255)"`
	Specialization ServiceType  `gorm:"type:varchar(32)"`
	Districts      []string     `gorm:"type:text;serializer:json"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for DialogueSession.
func (DialogueSession) TableName() string { return "dialogue_sessions" }
