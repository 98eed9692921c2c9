package college

import (
	"fmt"
	"time"

	"classlog/internal/relstore"
)

const dateLayout = "2006-01-02"

type DepartmentForm struct {
	Name        string `json:"name" validate:"required"`
	Code        string `json:"code" validate:"required"`
	Description string `json:"description"`
}

type ClassForm struct {
	Name         string `json:"name" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	Semester     int    `json:"semester" validate:"min=1,max=8"`
	AcademicYear string `json:"academic_year" validate:"required"`
}

type SubjectForm struct {
	Name         string `json:"name" validate:"required"`
	Code         string `json:"code" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	Semester     int    `json:"semester" validate:"min=1,max=8"`
	Credits      int    `json:"credits" validate:"min=1"`
	Description  string `json:"description"`
}

// FacultyForm provisions a login on create. Password is checked by the dialog in create mode only.
type FacultyForm struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password,omitempty" validate:"-"`
	FullName     string `json:"full_name" validate:"required"`
	EmployeeID   string `json:"employee_id" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	Designation  string `json:"designation"`
	Phone        string `json:"phone"`
}

// StudentForm provisions a login on create. Password is checked by the dialog in create mode only.
type StudentForm struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password,omitempty" validate:"-"`
	FullName     string `json:"full_name" validate:"required"`
	RollNumber   string `json:"roll_number" validate:"required"`
	ClassID      string `json:"class_id" validate:"required"`
	DepartmentID string `json:"department_id"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	DateOfBirth  string `json:"date_of_birth" validate:"omitempty,date"`
}

// AssignmentForm calls the total_marks column max_marks.
type AssignmentForm struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	SubjectID   string `json:"subject_id" validate:"required"`
	ClassID     string `json:"class_id" validate:"required"`
	FacultyID   string `json:"faculty_id" validate:"required"`
	DueDate     string `json:"due_date" validate:"required,date"`
	MaxMarks    int    `json:"max_marks" validate:"min=1"`
	Status      string `json:"status" validate:"required,oneof=active completed cancelled"`
}

type AttendanceForm struct {
	StudentID string `json:"student_id" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
	Date      string `json:"date" validate:"required,date"`
	Status    string `json:"status" validate:"required,oneof=present absent late"`
	MarkedBy  string `json:"marked_by"`
}

type TimetableForm struct {
	SubjectID  string `json:"subject_id" validate:"required"`
	ClassID    string `json:"class_id" validate:"required"`
	FacultyID  string `json:"faculty_id" validate:"required"`
	DayOfWeek  int    `json:"day_of_week" validate:"min=1,max=7"`
	StartTime  string `json:"start_time" validate:"required,clock"`
	EndTime    string `json:"end_time" validate:"required,clock"`
	RoomNumber string `json:"room_number"`
}

// UserForm creates a bare identity with a role.
type UserForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password,omitempty" validate:"-"`
	FullName string `json:"full_name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin faculty student"`
}

// AcademicYear renders the academic year containing now, e.g. "2026-2027". Years start in July.
func AcademicYear(now time.Time) string {
	start := now.Year()
	if now.Month() < time.July {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// nullable stores empty optional text as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (f DepartmentForm) row() relstore.Row {
	return relstore.Row{"name": f.Name, "code": f.Code, "description": nullable(f.Description)}
}

func (f ClassForm) row() relstore.Row {
	return relstore.Row{"name": f.Name, "department_id": f.DepartmentID, "semester": f.Semester, "academic_year": f.AcademicYear}
}

func (f SubjectForm) row() relstore.Row {
	return relstore.Row{
		"name":          f.Name,
		"code":          f.Code,
		"department_id": f.DepartmentID,
		"semester":      f.Semester,
		"credits":       f.Credits,
		"description":   nullable(f.Description),
	}
}

func (f FacultyForm) row() relstore.Row {
	return relstore.Row{
		"employee_id":   f.EmployeeID,
		"department_id": f.DepartmentID,
		"designation":   nullable(f.Designation),
		"phone":         nullable(f.Phone),
	}
}

func (f StudentForm) row() relstore.Row {
	return relstore.Row{
		"roll_number":   f.RollNumber,
		"class_id":      f.ClassID,
		"department_id": nullable(f.DepartmentID),
		"phone":         nullable(f.Phone),
		"address":       nullable(f.Address),
		"date_of_birth": nullable(f.DateOfBirth),
	}
}

func (f AssignmentForm) row() relstore.Row {
	return relstore.Row{
		"title":       f.Title,
		"description": nullable(f.Description),
		"subject_id":  f.SubjectID,
		"class_id":    f.ClassID,
		"faculty_id":  f.FacultyID,
		"due_date":    f.DueDate,
		"total_marks": f.MaxMarks,
		"status":      f.Status,
	}
}

func (f AttendanceForm) row() relstore.Row {
	return relstore.Row{
		"student_id": f.StudentID,
		"subject_id": f.SubjectID,
		"class_id":   f.ClassID,
		"date":       f.Date,
		"status":     f.Status,
		"marked_by":  nullable(f.MarkedBy),
	}
}

func (f TimetableForm) row() relstore.Row {
	return relstore.Row{
		"subject_id":  f.SubjectID,
		"class_id":    f.ClassID,
		"faculty_id":  f.FacultyID,
		"day_of_week": f.DayOfWeek,
		"start_time":  f.StartTime,
		"end_time":    f.EndTime,
		"room_number": nullable(f.RoomNumber),
	}
}

func profileRow(fullName, email string) relstore.Row {
	return relstore.Row{"full_name": fullName, "email": email}
}
