package kernel_test

import (
	"fmt"

	"github.com/openfroyo/upkeep/pkg/kernel"
)

// The running kernel is always retained, even when it is the oldest one.
func ExamplePlanRetention() {
	installed := []kernel.PackageRef{
		{Name: "linux-image-6.5.0-14-generic", Version: "6.5.0-14.14~22.04.1"},
		{Name: "linux-image-6.8.0-40-generic", Version: "6.8.0-40.40"},
		{Name: "linux-image-6.8.0-45-generic", Version: "6.8.0-45.45"},
	}
	running := installed[0]

	plan := kernel.PlanRetention(installed, running, 2)
	for _, r := range plan.Retain {
		fmt.Println("keep  ", r.Name)
	}
	for _, r := range plan.Remove {
		fmt.Println("remove", r.Name)
	}
	// Output:
	// keep   linux-image-6.5.0-14-generic
	// keep   linux-image-6.8.0-45-generic
	// remove linux-image-6.8.0-40-generic
}

func ExampleCompareVersions() {
	fmt.Println(kernel.CompareVersions("6.8.0-45.45", "6.8.0-40.40"))
	fmt.Println(kernel.CompareVersions("1.0~rc1", "1.0"))
	fmt.Println(kernel.CompareVersions("not-a-version", "0.1"))
	// Output:
	// 1
	// -1
	// -1
}
