package health

import (
	"fmt"
	"net/http"

	fthealth "github.com/Financial-Times/go-fthealth/v1_1"
	"github.com/Financial-Times/service-status-go/gtg"
)

const panicGuide = "https://github.com/openmrs/ocl-concepts-api/blob/main/README.md"

type service interface {
	Endpoint() string
	GTG() error
}

type HealthService struct {
	fthealth.HealthCheck
	conceptsAPI service
	viewStore   service
}

func NewHealthService(appSystemCode string, appName string, appDescription string, conceptsAPI service, viewStore service) *HealthService {
	hcService := &HealthService{
		conceptsAPI: conceptsAPI,
		viewStore:   viewStore,
	}
	hcService.SystemCode = appSystemCode
	hcService.Name = appName
	hcService.Description = appDescription
	hcService.Checks = []fthealth.Check{
		hcService.conceptsAPICheck(),
		hcService.viewStoreCheck(),
	}
	return hcService
}

func (service *HealthService) HealthCheckHandleFunc() func(w http.ResponseWriter, r *http.Request) {
	return fthealth.Handler(service)
}

func (service *HealthService) conceptsAPICheck() fthealth.Check {
	return fthealth.Check{
		ID:               "check-ocl-api-health",
		BusinessImpact:   "Impossible to list or view concepts of OCL sources and collections",
		Name:             "Check OCL API Health",
		PanicGuide:       panicGuide,
		Severity:         1,
		TechnicalSummary: fmt.Sprintf("OCL API is not available at %v", service.conceptsAPI.Endpoint()),
		Checker:          service.conceptsAPIChecker,
	}
}

func (service *HealthService) conceptsAPIChecker() (string, error) {
	if err := service.conceptsAPI.GTG(); err != nil {
		return "", err
	}
	return "OCL API is healthy", nil
}

func (service *HealthService) viewStoreCheck() fthealth.Check {
	return fthealth.Check{
		ID:               "check-view-store-health",
		BusinessImpact:   "Concept lists cannot be refreshed and stay in loading state",
		Name:             "Check Concepts View Store Health",
		PanicGuide:       panicGuide,
		Severity:         2,
		TechnicalSummary: fmt.Sprintf("Concepts view store is not available at %v", service.viewStore.Endpoint()),
		Checker:          service.viewStoreChecker,
	}
}

func (service *HealthService) viewStoreChecker() (string, error) {
	if err := service.viewStore.GTG(); err != nil {
		return "", err
	}
	return "Concepts view store is healthy", nil
}

func (service *HealthService) GTG() gtg.Status {
	for _, check := range service.Checks {
		if _, err := check.Checker(); err != nil {
			return gtg.Status{GoodToGo: false, Message: err.Error()}
		}
	}
	return gtg.Status{GoodToGo: true}
}
