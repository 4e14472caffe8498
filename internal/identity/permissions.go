package identity

// Capability keys grantable to admin identities. Assignment is OWNER-only.
const (
	PermCourseManage  = "course.manage"
	PermCoursePublish = "course.publish"
	PermStudentView   = "student.view"
	PermStudentManage = "student.manage"
	PermReportView    = "report.view"
)

var BuiltinPermissions = []Permission{
	{Key: PermCourseManage, Description: "Create and edit courses"},
	{Key: PermCoursePublish, Description: "Publish courses to students"},
	{Key: PermStudentView, Description: "View student profiles"},
	{Key: PermStudentManage, Description: "Manage student accounts"},
	{Key: PermReportView, Description: "View platform reports"},
}
