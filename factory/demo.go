package factory

// demoSeed is a small organization for local runs: a Jakarta head office
// covering everyone, a warehouse fence for the field team, and one remote
// worker with a personal fence.
const demoSeed = `
holidays:
  - {id: new-year, date: "2026-01-01", name: New Year, recurring: true}

organizations:
  - org_id: demo
    policy:
      active: true
      outside_fence: WARN
      integrity: WARN
    office_hours: {start: "09:00", end: "17:00", timezone: Asia/Jakarta}
    fences:
      - {id: hq, name: Head Office, kind: OFFICE, site_code: JKT-HQ, lat: -6.2088, lng: 106.8456, radius_m: 150}
      - {id: warehouse, name: Cikarang Warehouse, kind: OFFICE, site_code: CKR-WH, lat: -6.3059, lng: 107.1720, radius_m: 300}
      - {id: home-ayu, name: Ayu Home Office, kind: REMOTE, lat: -6.9175, lng: 107.6191, radius_m: 100}
    assignments:
      - {fence_id: hq, entity_type: ORG, entity_id: demo, is_default: true}
      - {fence_id: warehouse, entity_type: TEAM, entity_id: field-ops}
      - {fence_id: home-ayu, entity_type: USER, entity_id: emp-ayu}
    members: [emp-ayu, emp-budi, emp-citra, emp-dewi]
    memberships:
      - {account_id: emp-budi, entity_type: TEAM, entity_id: field-ops}
      - {account_id: emp-citra, entity_type: TEAM, entity_id: field-ops}
      - {account_id: emp-dewi, entity_type: PROJECT, entity_id: launch}
    holidays:
      - {id: demo-founding, date: "2026-08-17", name: Founding Day, recurring: true}
`

// Demo returns the built-in demo seed, loaded by cmd/server -seed demo.
func (f *Factory) Demo() (Seed, error) {
	return f.Parse([]byte(demoSeed))
}
