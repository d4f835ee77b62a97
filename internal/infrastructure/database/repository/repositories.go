package repository

import "threatmesh/internal/infrastructure/database"

// Repositories bundles every repository over one shared database handle
type Repositories struct {
	IoCs        *IoCRepository
	Sightings   *SightingRepository
	Events      *EventRepository
	Campaigns   *CampaignRepository
	Rules       *RuleRepository
	Audit       *AuditRepository
	Maintenance *MaintenanceRepository
}

// New wires all repositories to a database handle
func New(db database.DBTX) *Repositories {
	return &Repositories{
		IoCs:        NewIoCRepository(db),
		Sightings:   NewSightingRepository(db),
		Events:      NewEventRepository(db),
		Campaigns:   NewCampaignRepository(db),
		Rules:       NewRuleRepository(db),
		Audit:       NewAuditRepository(db),
		Maintenance: NewMaintenanceRepository(db),
	}
}
