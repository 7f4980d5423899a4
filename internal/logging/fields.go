package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ProjectFields 提供缓存相关命令的 project 维度字段。
func ProjectFields(op, projectID string) logrus.Fields {
	return logrus.Fields{
		"op":         op,
		"project_id": projectID,
	}
}

// CommandFields 提供命令入口的 request_id + 命令名字段，供服务端日志复用。
func CommandFields(command, requestID string) logrus.Fields {
	return logrus.Fields{
		"command":    command,
		"request_id": requestID,
	}
}
