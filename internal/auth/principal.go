package auth

import (
	"fmt"

	"attendance/internal/timetable"
)

// Role names the kind of principal a token was issued to.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Identity is common to every principal.
type Identity struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// Principal is the authenticated caller: exactly one of Student, Teacher or Admin.
type Principal interface {
	Subject() string
	Role() Role
	principal()
}

// Student is a principal enrolled in one class.
type Student struct {
	Identity
	Class  timetable.ClassKey `json:"class"`
	RollNo string             `json:"roll_no"`
}

// Teacher is a principal who may override attendance.
type Teacher struct {
	Identity
	Department string `json:"department"`
}

// Admin may manage timetables.
type Admin struct {
	Identity
}

func (s Student) Subject() string { return s.ID }
func (s Student) Role() Role      { return RoleStudent }
func (Student) principal()        {}

func (t Teacher) Subject() string { return t.ID }
func (t Teacher) Role() Role      { return RoleTeacher }
func (Teacher) principal()        {}

func (a Admin) Subject() string { return a.ID }
func (a Admin) Role() Role      { return RoleAdmin }
func (Admin) principal()        {}

// CanActFor reports whether p may read or change the student's attendance.
// Students act only for themselves; staff act for anyone.
func CanActFor(p Principal, studentID string) bool {
	switch v := p.(type) {
	case Student:
		return v.ID == studentID
	case Teacher, Admin:
		return true
	}
	return false
}

// principalOf rebuilds the principal carried by claims.
func principalOf(c Claims) (Principal, error) {
	id := Identity{ID: c.Subject, Name: c.Name}
	switch Role(c.Role) {
	case RoleStudent:
		s := Student{Identity: id, RollNo: c.RollNo}
		if c.Class != nil {
			s.Class = *c.Class
		}
		return s, nil
	case RoleTeacher:
		return Teacher{Identity: id, Department: c.Department}, nil
	case RoleAdmin:
		return Admin{Identity: id}, nil
	}
	return nil, fmt.Errorf("unknown role %q", c.Role)
}
