// Package college holds the dashboard's entities: their records as the list views render them,
// their forms, and the table mapping the crud engine runs on.
package college

// ProfileRef is the joined profile of a student or faculty member.
type ProfileRef struct {
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}

// DepartmentRef is a joined department.
type DepartmentRef struct {
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// ClassRef is a joined class.
type ClassRef struct {
	Name string `json:"name"`
}

// SubjectRef is a joined subject.
type SubjectRef struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Profile is the identity record shown in the users list.
type Profile struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type Department struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

type Class struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	DepartmentID string         `json:"department_id"`
	Semester     int            `json:"semester"`
	AcademicYear string         `json:"academic_year"`
	Departments  *DepartmentRef `json:"departments"`
}

type Subject struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Code         string         `json:"code"`
	DepartmentID string         `json:"department_id"`
	Semester     int            `json:"semester"`
	Credits      int            `json:"credits"`
	Description  string         `json:"description,omitempty"`
	Departments  *DepartmentRef `json:"departments"`
}

type Faculty struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	EmployeeID   string         `json:"employee_id"`
	DepartmentID string         `json:"department_id,omitempty"`
	Designation  string         `json:"designation,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Status       string         `json:"status"`
	Profiles     *ProfileRef    `json:"profiles"`
	Departments  *DepartmentRef `json:"departments"`
}

type Student struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	RollNumber   string      `json:"roll_number"`
	ClassID      string      `json:"class_id,omitempty"`
	DepartmentID string      `json:"department_id,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	Address      string      `json:"address,omitempty"`
	DateOfBirth  string      `json:"date_of_birth,omitempty"`
	Status       string      `json:"status"`
	Profiles     *ProfileRef `json:"profiles"`
	Classes      *ClassRef   `json:"classes"`
}

type Assignment struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	SubjectID   string      `json:"subject_id"`
	ClassID     string      `json:"class_id"`
	FacultyID   string      `json:"faculty_id"`
	DueDate     string      `json:"due_date"`
	TotalMarks  int         `json:"total_marks"`
	Status      string      `json:"status"`
	Subjects    *SubjectRef `json:"subjects"`
	Classes     *ClassRef   `json:"classes"`
}

// AttendanceStudent is the student joined onto an attendance row, with its own profile.
type AttendanceStudent struct {
	RollNumber string      `json:"roll_number"`
	Profiles   *ProfileRef `json:"profiles"`
}

type Attendance struct {
	ID        string             `json:"id"`
	StudentID string             `json:"student_id"`
	SubjectID string             `json:"subject_id"`
	ClassID   string             `json:"class_id"`
	Date      string             `json:"date"`
	Status    string             `json:"status"`
	MarkedBy  string             `json:"marked_by,omitempty"`
	Students  *AttendanceStudent `json:"students"`
	Subjects  *SubjectRef        `json:"subjects"`
}

// TimetableFaculty is the faculty member joined onto a timetable entry.
type TimetableFaculty struct {
	Profiles *ProfileRef `json:"profiles"`
}

type TimetableEntry struct {
	ID         string            `json:"id"`
	SubjectID  string            `json:"subject_id"`
	ClassID    string            `json:"class_id"`
	FacultyID  string            `json:"faculty_id"`
	DayOfWeek  int               `json:"day_of_week"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	RoomNumber string            `json:"room_number,omitempty"`
	Subjects   *SubjectRef       `json:"subjects"`
	Classes    *ClassRef         `json:"classes"`
	Faculty    *TimetableFaculty `json:"faculty"`
}
