package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
// 1. Config (no dependencies)
// 2. Logger (depends on Config)
// 3. Cache (depends on Config, Logger)
// 4. Storage (depends on Config, Logger)
// 5. HealthTracker (depends on Config, Logger)
// 6. Quota (depends on Config, Storage, HealthTracker, Logger)
// 7. Retention (depends on Config, Storage, Logger)
// 8. Checker (depends on HealthTracker, Storage, Config, Logger)
// 9. Auth (depends on Storage, Cache, Config)
// 10. Limits (depends on Config) - concurrency and per-key RPM
// 11. Metrics (depends on Quota)
// 12. Handler (depends on all above services)
// 13. Server (depends on Handler, Config).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewCache)
	do.Provide(i, NewStorage)
	do.Provide(i, NewHealthTracker)
	do.Provide(i, NewQuota)
	do.Provide(i, NewRetention)
	do.Provide(i, NewChecker)
	do.Provide(i, NewAuth)
	do.Provide(i, NewLimits)
	do.Provide(i, NewMetrics)
	do.Provide(i, NewHandler)
	do.Provide(i, NewHTTPServer)
}
