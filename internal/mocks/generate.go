package mocks

//go:generate mockgen -package mocks -destination device.go github.com/vkngwrapper/slab/device Device,Memory,Resource
