package main

import (
	"net/http"
	"os"
	"time"

	api "github.com/Financial-Times/api-endpoint"
	"github.com/Financial-Times/go-ft-http/fthttp"
	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/http-handlers-go/v2/httphandlers"
	status "github.com/Financial-Times/service-status-go/httphandlers"
	"github.com/gorilla/mux"
	cli "github.com/jawher/mow.cli"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/redis/go-redis/v9"

	"github.com/openmrs/ocl-concepts-api/auth"
	"github.com/openmrs/ocl-concepts-api/concept"
	"github.com/openmrs/ocl-concepts-api/handler"
	"github.com/openmrs/ocl-concepts-api/health"
	"github.com/openmrs/ocl-concepts-api/store"
	"github.com/openmrs/ocl-concepts-api/view"
)

const appDescription = "OCL Concepts API"

func main() {
	app := cli.App("ocl-concepts-api", appDescription)

	appSystemCode := app.String(cli.StringOpt{
		Name:   "app-system-code",
		Value:  "ocl-concepts-api",
		Desc:   "System Code of the application",
		EnvVar: "APP_SYSTEM_CODE",
	})
	appName := app.String(cli.StringOpt{
		Name:   "app-name",
		Value:  "ocl-concepts-api",
		Desc:   "Application name",
		EnvVar: "APP_NAME",
	})
	port := app.String(cli.StringOpt{
		Name:   "port",
		Value:  "8080",
		Desc:   "Port to listen on",
		EnvVar: "APP_PORT",
	})
	oclAPIEndpoint := app.String(cli.StringOpt{
		Name:   "ocl-api-endpoint",
		Value:  "https://api.openconceptlab.org",
		Desc:   "OCL API endpoint, used for concepts and user profiles",
		EnvVar: "OCL_API_ENDPOINT",
	})
	httpTimeoutDuration := app.String(cli.StringOpt{
		Name:   "http-timeout",
		Value:  "8s",
		Desc:   "Duration to wait before timing out a request",
		EnvVar: "HTTP_TIMEOUT",
	})
	retrieveTimeoutDuration := app.String(cli.StringOpt{
		Name:   "retrieve-timeout",
		Value:  "30s",
		Desc:   "Duration to wait for the OCL API when retrieving a page of concepts",
		EnvVar: "RETRIEVE_TIMEOUT",
	})
	conceptsMaxAge := app.String(cli.StringOpt{
		Name:   "concepts-max-age",
		Value:  "5m",
		Desc:   "Age after which a retrieved page of concepts is fetched again. 0 keeps it until the query changes",
		EnvVar: "CONCEPTS_MAX_AGE",
	})
	redisAddr := app.String(cli.StringOpt{
		Name:   "redis-addr",
		Value:  "",
		Desc:   "Redis address used to share view state between instances. View state is kept in memory if empty",
		EnvVar: "REDIS_ADDR",
	})
	redisKeyPrefix := app.String(cli.StringOpt{
		Name:   "redis-key-prefix",
		Value:  "ocl-concepts-api:",
		Desc:   "Prefix of the Redis keys holding view state",
		EnvVar: "REDIS_KEY_PREFIX",
	})
	apiYml := app.String(cli.StringOpt{
		Name:   "api-yml",
		Value:  "./_ft/api.yml",
		Desc:   "Location of the API Swagger YML file.",
		EnvVar: "API_YML",
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Value:  "INFO",
		Desc:   "Log level",
		EnvVar: "LOG_LEVEL",
	})

	log := logger.NewUPPLogger(*appSystemCode, *logLevel)
	log.Infof("[Startup] %v is starting", *appSystemCode)

	app.Action = func() {
		log = logger.NewUPPLogger(*appSystemCode, *logLevel)
		log.Infof("System code: %s, App Name: %s, Port: %s", *appSystemCode, *appName, *port)

		httpTimeout, err := time.ParseDuration(*httpTimeoutDuration)
		if err != nil {
			log.WithError(err).Fatal("Please provide a valid timeout duration")
		}
		retrieveTimeout, err := time.ParseDuration(*retrieveTimeoutDuration)
		if err != nil {
			log.WithError(err).Fatal("Please provide a valid retrieve timeout duration")
		}
		maxAge, err := time.ParseDuration(*conceptsMaxAge)
		if err != nil {
			log.WithError(err).Fatal("Please provide a valid concepts max age")
		}

		client := fthttp.NewClientWithDefaultTimeout("OCL", *appSystemCode)

		conceptsAPI := concept.NewReadAPI(client, *oclAPIEndpoint, log)
		profiles := auth.NewProfileAPI(client, *oclAPIEndpoint, log)
		backend := newBackend(*redisAddr, *redisKeyPrefix, stateTTL(maxAge, retrieveTimeout), log)

		conceptsStore := view.NewConceptsStore(backend, conceptsAPI, retrieveTimeout, metrics.DefaultRegistry, log)
		coordinator := view.NewCoordinator(conceptsStore, maxAge, retrieveTimeout, log)
		conceptsHandler := handler.New(coordinator, conceptsStore, conceptsAPI, profiles, httpTimeout, log)
		healthService := health.NewHealthService(*appSystemCode, *appName, appDescription, conceptsAPI, backend)

		serveEndpoints(*port, apiYml, conceptsHandler, healthService, log)
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Errorf("App could not start, error=[%s]\n", err)
		return
	}
}

// stateTTL is how long an untouched view state is kept. It outlives the
// freshness window so that a superseded state can still be read while its
// replacement is loading.
func stateTTL(maxAge time.Duration, retrieveTimeout time.Duration) time.Duration {
	if maxAge <= 0 {
		return 24 * time.Hour
	}
	return 2 * (maxAge + retrieveTimeout)
}

// newBackend keeps view state in Redis when an address is configured.
func newBackend(addr string, keyPrefix string, ttl time.Duration, log *logger.UPPLogger) store.Backend {
	if addr == "" {
		log.Info("No Redis address provided, keeping view state in memory")
		return store.NewMemoryBackend(ttl)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return store.NewRedisBackend(client, keyPrefix, ttl, log)
}

func serveEndpoints(port string, apiYml *string, conceptsHandler *handler.Handler, healthService *health.HealthService, log *logger.UPPLogger) {
	r := mux.NewRouter()

	r.HandleFunc(handler.ListConceptsPath, conceptsHandler.ListConcepts).Methods(http.MethodGet)
	r.HandleFunc(handler.ConceptPath, conceptsHandler.GetConcept).Methods(http.MethodGet)

	var monitoringRouter http.Handler = r
	monitoringRouter = httphandlers.TransactionAwareRequestLoggingHandler(log, monitoringRouter)
	monitoringRouter = httphandlers.HTTPMetricsHandler(metrics.DefaultRegistry, monitoringRouter)

	http.HandleFunc("/__health", healthService.HealthCheckHandleFunc())
	http.HandleFunc(status.GTGPath, status.NewGoodToGoHandler(healthService.GTG))
	http.HandleFunc(status.BuildInfoPath, status.BuildInfoHandler)

	if apiYml != nil {
		apiEndpoint, err := api.NewAPIEndpointForFile(*apiYml)
		if err != nil {
			log.WithError(err).WithField("file", *apiYml).Warn("Failed to serve the API Endpoint for this service. Please validate the Swagger YML and the file location")
		} else {
			http.HandleFunc(api.DefaultPath, apiEndpoint.ServeHTTP)
		}
	}

	http.Handle("/", monitoringRouter)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("Unable to start: %v", err)
	}
}
