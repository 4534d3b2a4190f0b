package ignore

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 用户自定义规则文件，放在被导入目录的根下
const FileName = ".binstoreignore"

// 系统级默认忽略规则，强制生效
var defaultRules = []string{
	// 存储自身的目录：导入仓库目录会把自己的对象再导入一遍
	".binstore",
	".git",

	// 防止凭据泄露
	"config.yaml",
	".env",

	".DS_Store", // macOS
	"Thumbs.db", // Windows
}

// Matcher 判断 put 目录时哪些文件应该被跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 读取 rootPath 下的 .binstoreignore (如果有)，
// 和默认规则以及命令行传入的 extra 规则一起编译
func NewMatcher(rootPath string, extra ...string) (*Matcher, error) {
	rules := append(append([]string{}, defaultRules...), extra...)

	ignoreFile := filepath.Join(rootPath, FileName)
	if _, err := os.Stat(ignoreFile); err != nil {
		return &Matcher{ignorer: gitignore.CompileIgnoreLines(rules...)}, nil
	}

	ignorer, err := gitignore.CompileIgnoreFileAndLines(ignoreFile, rules...)
	if err != nil {
		return nil, err
	}
	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查相对于导入根目录的路径是否应该忽略 (例如 "data/model.bin")。
// 路径分隔符和尾部斜杠会被规范化。
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	path = strings.TrimSuffix(filepath.ToSlash(path), "/")
	if path == "" || path == "." {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
