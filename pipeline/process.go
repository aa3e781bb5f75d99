// Package pipeline runs the per-cloud processing chain and the node that drives it.
package pipeline

import (
	"github.com/pkg/errors"

	"go.viam.com/cloudseg/params"
	"go.viam.com/cloudseg/pointcloud"
	"go.viam.com/cloudseg/vision/segmentation"
)

// Result holds every intermediate product of one processing cycle.
type Result struct {
	// Reduced is the voxel-grid downsampled cloud.
	Reduced *pointcloud.PointCloud
	// Indices are the points of Reduced within the filter limits.
	Indices pointcloud.Indices
	// Regions are the segments found among Indices, indexing into Reduced.
	Regions []segmentation.Region
	// Labels give, per point of Reduced, the position of its region in Regions or -1.
	Labels []int
	// Output is the cloud to publish, carrying the input header.
	Output *pointcloud.PointCloud
}

// Process downsamples cloud, restricts it to the filter limits, segments what remains and
// composes the output cloud selected by the output mode.
func Process(cloud *pointcloud.PointCloud, tunables params.Tunables) (*Result, error) {
	if err := tunables.Validate(); err != nil {
		return nil, err
	}
	reduced, err := pointcloud.VoxelGridFilter(cloud, tunables.LeafSize)
	if err != nil {
		return nil, errors.Wrap(err, "downsampling")
	}
	indices, err := pointcloud.FilterRange(reduced, tunables.FilterAxis, tunables.FilterLow, tunables.FilterHigh)
	if err != nil {
		return nil, errors.Wrap(err, "filtering")
	}

	cfg := tunables.SegmentationConfig()
	regions := []segmentation.Region{}
	if len(indices) >= cfg.MinClusterSize {
		searcher := pointcloud.NewKDTreeSubset(reduced, indices)
		regions, err = segmentation.RegionGrowingRGB(reduced, indices, searcher, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "segmenting")
		}
	}

	result := &Result{
		Reduced: reduced,
		Indices: indices,
		Regions: regions,
		Labels:  segmentation.Labels(reduced.Size(), regions),
	}
	switch tunables.OutputMode {
	case params.OutputSegmented:
		result.Output = segmentation.ColoredCloud(reduced, regions)
	default:
		result.Output = reduced
	}
	return result, nil
}
