// Package manager supervises the bridge between Moonraker and the document
// store. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: supervisor states and the Snapshot projection.
//   - run.go: the connect / listen / reconnect loop.
//   - metadata.go: status routing and file metadata refresh.
//   - events.go, eventpub_*.go: lifecycle events and publishers.
//   - errors.go: error types and helpers (IsAlreadyRunning, IsConfigError).
//   - status_report.go: Status/Snapshot reporting helpers.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (NewWithConfig, Run, Ready, Status, Snapshot).
package manager
