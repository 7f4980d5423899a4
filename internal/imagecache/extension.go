package imagecache

import "strings"

// knownExtensions 是扩展名启发式与读取端目录探测共用的集合。
var knownExtensions = []string{"png", "jpg", "jpeg", "webp"}

// inferExtension 从 URL 后缀（或查询串前的后缀）推断扩展名，
// 不做内容嗅探，无法识别时默认 jpg。
func inferExtension(url string) string {
	for _, ext := range knownExtensions {
		if strings.HasSuffix(url, "."+ext) || strings.Contains(url, "."+ext+"?") {
			return ext
		}
	}
	return "jpg"
}

// contentTypeFor 将扩展名映射为 MIME 类型，未知扩展名按 jpeg 处理。
func contentTypeFor(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
