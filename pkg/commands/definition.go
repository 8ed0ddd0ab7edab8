package commands

type Category string

const (
	CategoryGeneral    Category = "General"
	CategoryMonitoring Category = "Monitoring"
	CategoryDocker     Category = "Docker"
	CategoryServices   Category = "Services"
	CategorySecurity   Category = "Security"
	CategoryBackup     Category = "Backup"
	CategoryCritical   Category = "Critical"
)

// categoryOrder fixes the section order of the help text.
var categoryOrder = []Category{
	CategoryGeneral,
	CategoryMonitoring,
	CategoryDocker,
	CategoryServices,
	CategorySecurity,
	CategoryBackup,
	CategoryCritical,
}

type Definition struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string
	Category    Category
	// Critical commands only issue a PIN challenge; the work runs after confirmation.
	Critical bool
	Handler  Handler
}
