package k8s

import (
	"context"
	"errors"
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// MissionStatusCRD MissionStatus 的 CRD 名称
const MissionStatusCRD = "missionstatuses.uav.io"

// ErrCRDNotEstablished CRD 不存在或尚未 Established
var ErrCRDNotEstablished = errors.New("CRD not established")

// CheckCRDs 确认给定 CRD 均已建立，未指定时检查 MissionStatus
func CheckCRDs(ctx context.Context, client apiextensionsclient.Interface, names ...string) error {
	if len(names) == 0 {
		names = []string{MissionStatusCRD}
	}

	var errs []error
	for _, name := range names {
		crd, err := client.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrCRDNotEstablished, name, err))
			continue
		}
		if !established(crd) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrCRDNotEstablished, name))
		}
	}
	return errors.Join(errs...)
}

func established(crd *apiextensionsv1.CustomResourceDefinition) bool {
	for _, condition := range crd.Status.Conditions {
		if condition.Type == apiextensionsv1.Established && condition.Status == apiextensionsv1.ConditionTrue {
			return true
		}
	}
	return false
}
