package controllers_fx

import (
	"go.uber.org/fx"

	"subyield/internal/api"
	"subyield/internal/api/controllers"
)

var Module = fx.Options(
	fx.Provide(controllers.NewPlanController),
	fx.Provide(controllers.NewSubscriptionController),
	fx.Provide(controllers.NewBackendController),
	fx.Provide(controllers.NewAdminController),
	fx.Provide(controllers.NewSandboxController),
	fx.Provide(controllers.NewHealthController),
	fx.Provide(provideControllers))

type params struct {
	fx.In

	Plan         *controllers.PlanController
	Subscription *controllers.SubscriptionController
	Backend      *controllers.BackendController
	Admin        *controllers.AdminController
	Sandbox      *controllers.SandboxController
	Health       *controllers.HealthController
}

func provideControllers(p params) api.Controllers {
	return api.Controllers{
		Plan:         p.Plan,
		Subscription: p.Subscription,
		Backend:      p.Backend,
		Admin:        p.Admin,
		Sandbox:      p.Sandbox,
		Health:       p.Health,
	}
}
