package college

import (
	"time"

	"classlog/internal/auth"
	"classlog/internal/crud"
	"classlog/internal/relstore"
	"classlog/internal/session"
)

// AttendanceLimit caps the attendance list to the most recent rows.
const AttendanceLimit = 50

var (
	profileJoin = relstore.Join{Alias: "profiles", Table: "profiles", LocalKey: "user_id", ForeignKey: "user_id", Columns: []string{"full_name", "email"}}
	classJoin   = relstore.Join{Alias: "classes", Table: "classes", LocalKey: "class_id", Columns: []string{"name"}}
	subjectJoin = relstore.Join{Alias: "subjects", Table: "subjects", LocalKey: "subject_id", Columns: []string{"name", "code"}}
)

func departmentJoin(columns ...string) relstore.Join {
	return relstore.Join{Alias: "departments", Table: "departments", LocalKey: "department_id", Columns: columns}
}

var (
	departmentOptions = crud.Reference{
		Field: "department_id",
		Query: relstore.Query{Table: "departments", Columns: []string{"id", "name", "code"}},
		Label: func(r relstore.Row) string { return r.String("name") + " (" + r.String("code") + ")" },
	}
	classOptions = crud.Reference{
		Field: "class_id",
		Query: relstore.Query{Table: "classes", Columns: []string{"id", "name", "academic_year"}},
		Label: func(r relstore.Row) string { return r.String("name") + " " + r.String("academic_year") },
	}
	subjectOptions = crud.Reference{
		Field: "subject_id",
		Query: relstore.Query{Table: "subjects", Columns: []string{"id", "name", "code"}},
		Label: func(r relstore.Row) string { return r.String("code") + " " + r.String("name") },
	}
)

func facultyOptions(field string) crud.Reference {
	return crud.Reference{
		Field: field,
		Query: relstore.Query{
			Table:   "faculty",
			Columns: []string{"id", "employee_id"},
			Joins:   []relstore.Join{{Alias: "profiles", Table: "profiles", LocalKey: "user_id", ForeignKey: "user_id", Columns: []string{"full_name"}}},
		},
		Label: func(r relstore.Row) string { return nestedName(r) + " (" + r.String("employee_id") + ")" },
	}
}

var studentOptions = crud.Reference{
	Field: "student_id",
	Query: relstore.Query{
		Table:   "students",
		Columns: []string{"id", "roll_number"},
		Joins:   []relstore.Join{{Alias: "profiles", Table: "profiles", LocalKey: "user_id", ForeignKey: "user_id", Columns: []string{"full_name"}}},
	},
	Label: func(r relstore.Row) string { return nestedName(r) + " (" + r.String("roll_number") + ")" },
}

func nestedName(r relstore.Row) string {
	if p, ok := r["profiles"].(relstore.Row); ok {
		return p.String("full_name")
	}
	if p, ok := r["profiles"].(map[string]any); ok {
		return relstore.Row(p).String("full_name")
	}
	return ""
}

func Departments() *crud.Spec[Department, DepartmentForm] {
	return &crud.Spec[Department, DepartmentForm]{
		Name:     "departments",
		Noun:     "Department",
		Plural:   "departments",
		Table:    "departments",
		Defaults: func(time.Time) DepartmentForm { return DepartmentForm{} },
		FromRecord: func(r Department) DepartmentForm {
			return DepartmentForm{Name: r.Name, Code: r.Code, Description: r.Description}
		},
		ID:  func(r Department) string { return r.ID },
		Row: DepartmentForm.row,
	}
}

func Classes() *crud.Spec[Class, ClassForm] {
	return &crud.Spec[Class, ClassForm]{
		Name:   "classes",
		Noun:   "Class",
		Plural: "classes",
		Table:  "classes",
		Joins:  []relstore.Join{departmentJoin("name", "code")},
		Defaults: func(now time.Time) ClassForm {
			return ClassForm{Semester: 1, AcademicYear: AcademicYear(now)}
		},
		FromRecord: func(r Class) ClassForm {
			return ClassForm{Name: r.Name, DepartmentID: r.DepartmentID, Semester: r.Semester, AcademicYear: r.AcademicYear}
		},
		ID:         func(r Class) string { return r.ID },
		Row:        ClassForm.row,
		References: []crud.Reference{departmentOptions},
	}
}

func Subjects() *crud.Spec[Subject, SubjectForm] {
	return &crud.Spec[Subject, SubjectForm]{
		Name:     "subjects",
		Noun:     "Subject",
		Plural:   "subjects",
		Table:    "subjects",
		Joins:    []relstore.Join{departmentJoin("name", "code")},
		Defaults: func(time.Time) SubjectForm { return SubjectForm{Semester: 1, Credits: 3} },
		FromRecord: func(r Subject) SubjectForm {
			return SubjectForm{
				Name:         r.Name,
				Code:         r.Code,
				DepartmentID: r.DepartmentID,
				Semester:     r.Semester,
				Credits:      r.Credits,
				Description:  r.Description,
			}
		},
		ID:         func(r Subject) string { return r.ID },
		Row:        SubjectForm.row,
		References: []crud.Reference{departmentOptions},
	}
}

func FacultyMembers() *crud.Spec[Faculty, FacultyForm] {
	return &crud.Spec[Faculty, FacultyForm]{
		Name:     "faculty",
		Noun:     "Faculty",
		Plural:   "faculty",
		Table:    "faculty",
		Joins:    []relstore.Join{profileJoin, departmentJoin("name")},
		Defaults: func(time.Time) FacultyForm { return FacultyForm{} },
		FromRecord: func(r Faculty) FacultyForm {
			f := FacultyForm{EmployeeID: r.EmployeeID, DepartmentID: r.DepartmentID, Designation: r.Designation, Phone: r.Phone}
			if r.Profiles != nil {
				f.FullName = r.Profiles.FullName
				f.Email = r.Profiles.Email
			}
			return f
		},
		ID:  func(r Faculty) string { return r.ID },
		Row: FacultyForm.row,
		InsertRow: func(f FacultyForm) relstore.Row {
			row := f.row()
			row["status"] = "active"
			return row
		},
		Redact: func(f FacultyForm) FacultyForm {
			f.Password = ""
			return f
		},
		References: []crud.Reference{departmentOptions},
		Identity: &crud.Identity[Faculty, FacultyForm]{
			SignUp: func(f FacultyForm) auth.SignUpRequest {
				return auth.SignUpRequest{Email: f.Email, Password: f.Password, FullName: f.FullName, Role: session.RoleFaculty}
			},
			LinkColumn: "user_id",
			UserID:     func(r Faculty) string { return r.UserID },
			Profile:    func(f FacultyForm) relstore.Row { return profileRow(f.FullName, f.Email) },
		},
		Statuses: []string{"active", "inactive"},
	}
}

func Students() *crud.Spec[Student, StudentForm] {
	return &crud.Spec[Student, StudentForm]{
		Name:     "students",
		Noun:     "Student",
		Plural:   "students",
		Table:    "students",
		Joins:    []relstore.Join{profileJoin, classJoin},
		Defaults: func(time.Time) StudentForm { return StudentForm{} },
		FromRecord: func(r Student) StudentForm {
			f := StudentForm{
				RollNumber:   r.RollNumber,
				ClassID:      r.ClassID,
				DepartmentID: r.DepartmentID,
				Phone:        r.Phone,
				Address:      r.Address,
				DateOfBirth:  r.DateOfBirth,
			}
			if r.Profiles != nil {
				f.FullName = r.Profiles.FullName
				f.Email = r.Profiles.Email
			}
			return f
		},
		ID:  func(r Student) string { return r.ID },
		Row: StudentForm.row,
		InsertRow: func(f StudentForm) relstore.Row {
			row := f.row()
			row["status"] = "active"
			return row
		},
		Redact: func(f StudentForm) StudentForm {
			f.Password = ""
			return f
		},
		References: []crud.Reference{classOptions, departmentOptions},
		Identity: &crud.Identity[Student, StudentForm]{
			SignUp: func(f StudentForm) auth.SignUpRequest {
				return auth.SignUpRequest{Email: f.Email, Password: f.Password, FullName: f.FullName, Role: session.RoleStudent}
			},
			LinkColumn: "user_id",
			UserID:     func(r Student) string { return r.UserID },
			Profile:    func(f StudentForm) relstore.Row { return profileRow(f.FullName, f.Email) },
		},
		Statuses: []string{"active", "inactive"},
	}
}

func Assignments() *crud.Spec[Assignment, AssignmentForm] {
	return &crud.Spec[Assignment, AssignmentForm]{
		Name:   "assignments",
		Noun:   "Assignment",
		Plural: "assignments",
		Table:  "assignments",
		Joins:  []relstore.Join{subjectJoin, classJoin},
		Defaults: func(time.Time) AssignmentForm {
			return AssignmentForm{MaxMarks: 100, Status: "active"}
		},
		FromRecord: func(r Assignment) AssignmentForm {
			f := AssignmentForm{
				Title:       r.Title,
				Description: r.Description,
				SubjectID:   r.SubjectID,
				ClassID:     r.ClassID,
				FacultyID:   r.FacultyID,
				DueDate:     r.DueDate,
				MaxMarks:    r.TotalMarks,
				Status:      r.Status,
			}
			if f.MaxMarks == 0 {
				f.MaxMarks = 100
			}
			if f.Status == "" {
				f.Status = "active"
			}
			return f
		},
		ID:         func(r Assignment) string { return r.ID },
		Row:        AssignmentForm.row,
		References: []crud.Reference{subjectOptions, classOptions, facultyOptions("faculty_id")},
		Statuses:   []string{"active", "completed", "cancelled"},
	}
}

func AttendanceRecords() *crud.Spec[Attendance, AttendanceForm] {
	return &crud.Spec[Attendance, AttendanceForm]{
		Name:   "attendance",
		Noun:   "Attendance",
		Plural: "attendance",
		Table:  "attendance",
		Joins: []relstore.Join{
			{
				Alias: "students", Table: "students", LocalKey: "student_id", Inner: true,
				Columns: []string{"roll_number"},
				Joins: []relstore.Join{
					{Alias: "profiles", Table: "profiles", LocalKey: "user_id", ForeignKey: "user_id", Inner: true, Columns: []string{"full_name"}},
				},
			},
			subjectJoin,
		},
		Order: []relstore.Order{{Column: "date", Desc: true}},
		Limit: AttendanceLimit,
		Defaults: func(now time.Time) AttendanceForm {
			return AttendanceForm{Date: now.Format(dateLayout), Status: "present"}
		},
		FromRecord: func(r Attendance) AttendanceForm {
			return AttendanceForm{
				StudentID: r.StudentID,
				SubjectID: r.SubjectID,
				ClassID:   r.ClassID,
				Date:      r.Date,
				Status:    r.Status,
				MarkedBy:  r.MarkedBy,
			}
		},
		ID:         func(r Attendance) string { return r.ID },
		Row:        AttendanceForm.row,
		References: []crud.Reference{studentOptions, subjectOptions, classOptions, facultyOptions("marked_by")},
	}
}

func Timetable() *crud.Spec[TimetableEntry, TimetableForm] {
	return &crud.Spec[TimetableEntry, TimetableForm]{
		Name:   "timetable",
		Noun:   "Schedule",
		Plural: "timetable",
		Table:  "timetable",
		Joins: []relstore.Join{
			subjectJoin,
			classJoin,
			{
				Alias: "faculty", Table: "faculty", LocalKey: "faculty_id", Inner: true,
				Columns: []string{"id"},
				Joins: []relstore.Join{
					{Alias: "profiles", Table: "profiles", LocalKey: "user_id", ForeignKey: "user_id", Inner: true, Columns: []string{"full_name"}},
				},
			},
		},
		Order:    []relstore.Order{{Column: "day_of_week"}, {Column: "start_time"}},
		Defaults: func(time.Time) TimetableForm { return TimetableForm{DayOfWeek: 1} },
		FromRecord: func(r TimetableEntry) TimetableForm {
			return TimetableForm{
				SubjectID:  r.SubjectID,
				ClassID:    r.ClassID,
				FacultyID:  r.FacultyID,
				DayOfWeek:  r.DayOfWeek,
				StartTime:  r.StartTime,
				EndTime:    r.EndTime,
				RoomNumber: r.RoomNumber,
			}
		},
		ID:         func(r TimetableEntry) string { return r.ID },
		Row:        TimetableForm.row,
		References: []crud.Reference{subjectOptions, classOptions, facultyOptions("faculty_id")},
	}
}

// Users lists profiles and creates bare identities; there is no users table of its own.
func Users() *crud.Spec[Profile, UserForm] {
	return &crud.Spec[Profile, UserForm]{
		Name:     "users",
		Noun:     "User",
		Plural:   "users",
		Table:    "profiles",
		Order:    []relstore.Order{{Column: "created_at", Desc: true}},
		Defaults: func(time.Time) UserForm { return UserForm{Role: string(session.RoleStudent)} },
		FromRecord: func(r Profile) UserForm {
			return UserForm{Email: r.Email, FullName: r.FullName}
		},
		ID:  func(r Profile) string { return r.ID },
		Row: func(f UserForm) relstore.Row { return profileRow(f.FullName, f.Email) },
		Redact: func(f UserForm) UserForm {
			f.Password = ""
			return f
		},
		Identity: &crud.Identity[Profile, UserForm]{
			SignUp: func(f UserForm) auth.SignUpRequest {
				return auth.SignUpRequest{Email: f.Email, Password: f.Password, FullName: f.FullName, Role: session.Role(f.Role)}
			},
		},
		CreateOnly: true,
		Created:    "User created successfully",
	}
}
