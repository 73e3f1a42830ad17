package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// InstanceKey returns the cache key for an exam instance with its template
func (r *CacheKeyStruct) InstanceKey(instanceID string) string {
	return fmt.Sprintf("instance:%s", instanceID)
}

// TemplateQuestionsKey returns the cache key for a template's questions
func (r *CacheKeyStruct) TemplateQuestionsKey(templateID string) string {
	return fmt.Sprintf("template:%s:questions", templateID)
}

// ClassKey returns the cache key for a class
func (r *CacheKeyStruct) ClassKey(classID int) string {
	return fmt.Sprintf("class:%d", classID)
}

// InstanceMonitorChannel returns the Redis PubSub channel name for an instance monitor
func (r *CacheKeyStruct) InstanceMonitorChannel(instanceID string) string {
	return fmt.Sprintf("instance:%s:monitor", instanceID)
}

var CacheKey = NewCacheKeyStruct()
