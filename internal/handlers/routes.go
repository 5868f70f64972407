package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rbhatta/go-delivery-trackflow/internal/assignment"
	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
	"github.com/rbhatta/go-delivery-trackflow/internal/cache"
	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
	"github.com/rbhatta/go-delivery-trackflow/internal/idempotency"
	"github.com/rbhatta/go-delivery-trackflow/internal/metrics"
	"github.com/rbhatta/go-delivery-trackflow/internal/orders"
	"github.com/rbhatta/go-delivery-trackflow/internal/partners"
)

// HandlerConfig groups dependencies for the delivery API handlers.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	CloudWatchClient aws.CloudWatchAPI

	DeliveriesTable     string
	DeliveryOrdersTable string // per-order lock table
	PartnersTable       string
	OrdersTable         string
	IdempotencyTable    string

	QueueURL         string
	TTLWindow        time.Duration
	MetricsNamespace string

	Cache *cache.DeliveryCache // optional
}

// deps bundles the constructed stores shared across route groups.
type deps struct {
	deliveries *deliveries.Store
	partners   *partners.Store
	orders     *orders.Store
	idemp      *idempotency.Store
	publisher  *aws.Publisher
	recorder   *metrics.Recorder
	workflow   *assignment.Workflow
	cache      *cache.DeliveryCache
}

// RegisterRoutes registers all delivery API routes on r. Every data route
// sits behind the tenant middleware.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	deliveryStore := deliveries.NewStore(cfg.DynamoDBClient, cfg.DeliveriesTable, cfg.DeliveryOrdersTable)
	partnerStore := partners.NewStore(cfg.DynamoDBClient, cfg.PartnersTable)
	orderStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)

	var publisher *aws.Publisher
	if cfg.SQSClient != nil && cfg.QueueURL != "" {
		publisher = aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)
	}
	recorder := metrics.NewRecorder(cfg.CloudWatchClient, cfg.MetricsNamespace)

	d := &deps{
		deliveries: deliveryStore,
		partners:   partnerStore,
		orders:     orderStore,
		idemp:      idempStore,
		publisher:  publisher,
		recorder:   recorder,
		workflow:   assignment.NewWorkflow(deliveryStore, orderStore, partnerStore, publisherOrNil(publisher), recorder),
		cache:      cfg.Cache,
	}

	api := r.Group("/", TenantRequired())
	registerDeliveryRoutes(api, d)
	registerOrderRoutes(api, d)
	registerPartnerRoutes(api, d)
}

// publisherOrNil avoids handing the workflow a typed-nil interface value.
func publisherOrNil(p *aws.Publisher) assignment.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}
