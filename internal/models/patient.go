package models

import "time"

type Sex string

const (
	SexMale   Sex = "MALE"
	SexFemale Sex = "FEMALE"
)

type Role string

const (
	RolePatient       Role = "PATIENT"
	RoleMedicalDoctor Role = "MEDICAL_DOCTOR"
)

type Patient struct {
	ID          string
	Role        Role
	Sex         Sex
	Race        string
	DateOfBirth time.Time
	CreatedAt   time.Time
}
