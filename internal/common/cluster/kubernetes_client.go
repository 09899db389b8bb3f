package cluster

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/flowcontrol"
)

type ClientSettings struct {
	InCluster bool
	// Only used outside the cluster. Falls back to the default loading rules when empty.
	Kubeconfig string
	QPS        float32
	Burst      int
}

func NewKubernetesClient(settings ClientSettings) (kubernetes.Interface, *rest.Config, error) {
	if settings.QPS <= 0 {
		return nil, nil, errors.Errorf("qps must be positive, got %f", settings.QPS)
	}
	if settings.Burst <= 0 {
		return nil, nil, errors.Errorf("burst must be positive, got %d", settings.Burst)
	}

	restConfig, err := loadConfig(settings)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "loading kubernetes client configuration")
	}

	// All calls made through this client share one rate limiter.
	restConfig.RateLimiter = flowcontrol.NewTokenBucketRateLimiter(settings.QPS, settings.Burst)

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, err
	}
	return client, restConfig, nil
}

func loadConfig(settings ClientSettings) (*rest.Config, error) {
	if settings.InCluster {
		log.Info("Running with in cluster client configuration")
		return rest.InClusterConfig()
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if settings.Kubeconfig != "" {
		rules.ExplicitPath = settings.Kubeconfig
	}
	log.Infof("Running with client configuration from %s", describe(rules))
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func describe(rules *clientcmd.ClientConfigLoadingRules) string {
	if rules.ExplicitPath != "" {
		return rules.ExplicitPath
	}
	return "default loading rules"
}
